package web

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"studx/internal/auth"
	"studx/internal/buspass"
)

func (h *Handler) landing(c *gin.Context) {
	h.render(c, http.StatusOK, "landing.html", "Student Bus Pass", nil)
}

func (h *Handler) loginForm(c *gin.Context) {
	if auth.IdentityFrom(c) != nil {
		c.Redirect(http.StatusFound, "/dashboard")
		return
	}
	h.render(c, http.StatusOK, "login.html", "Login", nil)
}

func (h *Handler) login(c *gin.Context) {
	email := c.PostForm("email")
	id, err := h.deps.Accounts.SignIn(c.Request.Context(), email, c.PostForm("password"))
	if err != nil {
		code, msg := http.StatusUnauthorized, err.Error()
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			h.logger.Error("sign in failed", slog.String("error", err.Error()))
			code, msg = http.StatusInternalServerError, "Unable to sign in right now."
		}
		h.render(c, code, "login.html", "Login", gin.H{"Error": msg, "Email": email})
		return
	}
	if !h.startSession(c, *id) {
		h.render(c, http.StatusInternalServerError, "login.html", "Login", gin.H{"Error": "Unable to sign in right now.", "Email": email})
		return
	}
	c.Redirect(http.StatusSeeOther, "/dashboard")
}

func (h *Handler) registerForm(c *gin.Context) {
	if auth.IdentityFrom(c) != nil {
		c.Redirect(http.StatusFound, "/dashboard")
		return
	}
	h.render(c, http.StatusOK, "register.html", "Register", gin.H{"MinPassword": auth.MinPasswordLength})
}

func (h *Handler) register(c *gin.Context) {
	email := c.PostForm("email")
	data := gin.H{"Email": email, "MinPassword": auth.MinPasswordLength}
	id, err := h.deps.Accounts.SignUp(c.Request.Context(), email, c.PostForm("password"))
	if err != nil {
		data["Error"] = err.Error()
		h.render(c, http.StatusBadRequest, "register.html", "Register", data)
		return
	}
	if !h.startSession(c, *id) {
		data["Error"] = "Account created, but signing in failed. Please log in."
		h.render(c, http.StatusInternalServerError, "register.html", "Register", data)
		return
	}
	c.Redirect(http.StatusSeeOther, "/dashboard")
}

func (h *Handler) logout(c *gin.Context) {
	if rc, err := c.Cookie(auth.RefreshCookie); err == nil {
		if err := h.deps.Accounts.SignOut(c.Request.Context(), rc); err != nil {
			h.logger.Warn("sign out failed", slog.String("error", err.Error()))
		}
	}
	h.deps.Gate.ClearCookies(c)
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *Handler) startSession(c *gin.Context, id auth.Identity) bool {
	pair, err := h.deps.Accounts.IssueSession(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("session issue failed", slog.String("user_id", id.ID), slog.String("error", err.Error()))
		return false
	}
	h.deps.Gate.SetCookies(c, pair)
	return true
}

func (h *Handler) dashboard(c *gin.Context) {
	state := h.deps.Dashboard.Load(c.Request.Context(), auth.IdentityFrom(c))
	data := gin.H{}
	switch state.Kind {
	case buspass.DashboardRedirect:
		h.deps.Gate.ClearCookies(c)
		c.Redirect(http.StatusFound, auth.LoginPath)
		return
	case buspass.DashboardFound:
		data["Application"] = state.Record
	case buspass.DashboardDegraded:
		data["Degraded"] = true
	}
	h.render(c, http.StatusOK, "dashboard.html", "Dashboard", data)
}

func (h *Handler) applicationForm(c *gin.Context) {
	d := buspass.NewDraft(auth.IdentityFrom(c))
	h.render(c, http.StatusOK, "application.html", "Apply", gin.H{"Fields": formFields(d, nil)})
}

func (h *Handler) submitApplication(c *gin.Context) {
	id := auth.IdentityFrom(c)
	d, err := readDraft(c, id, h.deps.MaxUploadBytes)
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, errUploadTooLarge) {
			code = http.StatusRequestEntityTooLarge
		}
		h.renderApplication(c, code, d, nil, "Error submitting application: "+err.Error())
		return
	}

	rec, err := h.deps.Submitter.Submit(c.Request.Context(), id, d)
	var invalid *buspass.ValidationError
	switch {
	case err == nil:
		c.Redirect(http.StatusSeeOther, "/qr-scan?id="+url.QueryEscape(rec.ID))
	case errors.Is(err, auth.ErrNotAuthenticated):
		c.Redirect(http.StatusFound, auth.LoginPath)
	case errors.As(err, &invalid):
		h.renderApplication(c, http.StatusUnprocessableEntity, d, invalid.Missing, "Please fill in all required fields.")
	case errors.Is(err, buspass.ErrSubmissionInProgress):
		h.renderApplication(c, http.StatusConflict, d, nil, "Your application is already being submitted.")
	default:
		h.renderApplication(c, http.StatusBadGateway, d, nil, "Error submitting application: "+err.Error())
	}
}

func (h *Handler) renderApplication(c *gin.Context, code int, d *buspass.Draft, missing []buspass.Field, msg string) {
	h.render(c, code, "application.html", "Apply", gin.H{
		"Fields":  formFields(d, missing),
		"Preview": previewURL(d),
		"Error":   msg,
	})
}

func (h *Handler) qrScan(c *gin.Context) {
	id := strings.TrimSpace(c.Query("id"))
	if id == "" {
		c.Redirect(http.StatusFound, "/dashboard")
		return
	}
	verify := buspass.VerificationURL(h.origin(c.Request), id)
	qr, err := qrDataURL(verify, confirmationQRSize)
	if err != nil {
		h.logger.Error("qr render failed", slog.String("pass_id", id), slog.String("error", err.Error()))
	}
	h.render(c, http.StatusOK, "qrscan.html", "Application Submitted", gin.H{
		"ID":        id,
		"VerifyURL": verify,
		"QR":        qr,
	})
}

func (h *Handler) pass(c *gin.Context) {
	view := h.deps.Resolver.Resolve(c.Request.Context(), h.origin(c.Request), c.Param("id"))
	if !view.Found {
		h.render(c, http.StatusNotFound, "notfound.html", "Pass Not Found", nil)
		return
	}
	qr, err := qrDataURL(view.VerifyURL, passQRSize)
	if err != nil {
		h.logger.Error("qr render failed", slog.String("pass_id", view.Record.ID), slog.String("error", err.Error()))
	}
	h.render(c, http.StatusOK, "pass.html", "Bus Pass", gin.H{
		"Pass":         view.Record,
		"VerifyURL":    view.VerifyURL,
		"QR":           qr,
		"AcademicYear": academicYear,
		"ValidUntil":   validUntil,
	})
}

func (h *Handler) passQR(c *gin.Context) {
	view := h.deps.Resolver.Resolve(c.Request.Context(), h.origin(c.Request), c.Param("id"))
	if !view.Found {
		c.Status(http.StatusNotFound)
		return
	}
	png, err := qrPNG(view.VerifyURL, pngQRSize)
	if err != nil {
		h.logger.Error("qr render failed", slog.String("pass_id", view.Record.ID), slog.String("error", err.Error()))
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}
