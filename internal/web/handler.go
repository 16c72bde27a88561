// Package web serves the portal's HTML pages and its JSON API.
package web

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"studx/internal/auth"
	"studx/internal/buspass"
)

// Pass card wording shown on every printed pass.
const (
	academicYear = "2025-26"
	validUntil   = "December 31, 2026"
)

// Deps are the collaborators the handlers call.
type Deps struct {
	Accounts  *auth.Accounts
	Gate      *auth.SessionGate
	Submitter *buspass.Submitter
	Resolver  *buspass.Resolver
	Dashboard *buspass.Dashboard

	// PublicOrigin overrides the origin derived from each request when
	// building verification URLs.
	PublicOrigin   string
	MaxUploadBytes int64
	Logger         *slog.Logger

	// Uploads serves locally stored photos under /uploads when set.
	Uploads http.Handler
}

// Handler holds the page and API handlers.
type Handler struct {
	deps   Deps
	logger *slog.Logger
}

// New creates a handler.
func New(d Deps) *Handler {
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = 10 << 20
	}
	return &Handler{deps: d, logger: d.Logger.With(slog.String("component", "web"))}
}

// Register installs templates, static assets and every route on r.
func (h *Handler) Register(r *gin.Engine) error {
	tmpl, err := Templates()
	if err != nil {
		return fmt.Errorf("parse templates: %w", err)
	}
	r.SetHTMLTemplate(tmpl)
	r.StaticFS("/static", http.FS(staticFiles()))
	if h.deps.Uploads != nil {
		uploads := gin.WrapH(http.StripPrefix("/uploads", h.deps.Uploads))
		r.GET("/uploads/*object", uploads)
		r.HEAD("/uploads/*object", uploads)
	}

	gate := h.deps.Gate
	r.POST("/logout", h.logout)

	pages := r.Group("/", gate.Optional())
	pages.GET("/", h.landing)
	pages.GET("/login", h.loginForm)
	pages.POST("/login", h.login)
	pages.GET("/register", h.registerForm)
	pages.POST("/register", h.register)
	pages.GET("/qr-scan", h.qrScan)
	pages.GET("/pass/:id", h.pass)
	pages.GET("/pass/:id/qr.png", h.passQR)

	private := r.Group("/", gate.RequirePage())
	private.GET("/dashboard", h.dashboard)
	private.GET("/application", h.applicationForm)
	private.POST("/application", h.submitApplication)

	api := r.Group("/v1")
	api.POST("/auth/signup", h.apiSignUp)
	api.POST("/auth/login", h.apiLogin)
	api.POST("/auth/refresh", h.apiRefresh)
	api.POST("/auth/logout", h.apiLogout)
	api.GET("/passes/:id", h.apiPass)

	authed := api.Group("", gate.RequireAPI())
	authed.POST("/applications", h.apiSubmit)
	authed.GET("/applications/me", h.apiMyApplication)
	return nil
}

// render executes a page template with the navbar state filled in.
func (h *Handler) render(c *gin.Context, code int, name, title string, data gin.H) {
	if data == nil {
		data = gin.H{}
	}
	data["Title"] = title
	data["Identity"] = auth.IdentityFrom(c)
	c.HTML(code, name, data)
}

// origin is the scheme and host verification URLs are built from.
func (h *Handler) origin(r *http.Request) string {
	if h.deps.PublicOrigin != "" {
		return h.deps.PublicOrigin
	}
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
