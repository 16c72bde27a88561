package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Cookie names for the browser session.
const (
	SessionCookie = "studx_session"
	RefreshCookie = "studx_refresh"
)

const identityKey = "identity"

// LoginPath is where unauthenticated page visits are sent.
const LoginPath = "/login"

// SessionGate resolves the caller's identity from a session cookie or bearer token.
type SessionGate struct {
	signingKey string
	issuer     string
	secure     bool
	refresher  Refresher
	logger     *slog.Logger
}

// Refresher exchanges a refresh token for a new token pair. *Accounts implements it.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (TokenPair, *Identity, error)
}

// NewSessionGate builds a gate validating tokens signed with signingKey.
func NewSessionGate(signingKey, issuer string, secureCookies bool, logger *slog.Logger) *SessionGate {
	return &SessionGate{
		signingKey: signingKey,
		issuer:     issuer,
		secure:     secureCookies,
		logger:     logger.With(slog.String("component", "session_gate")),
	}
}

// WithRefresher lets the page middlewares renew a missing or expired access
// cookie from the refresh cookie.
func (g *SessionGate) WithRefresher(r Refresher) *SessionGate {
	g.refresher = r
	return g
}

// Resolve returns the identity attached to r. It returns (nil, nil) when the
// request carries no credential and an error when the credential is unusable.
func (g *SessionGate) Resolve(r *http.Request) (*Identity, error) {
	token := bearerToken(r)
	if token == "" {
		c, err := r.Cookie(SessionCookie)
		if err != nil {
			if errors.Is(err, http.ErrNoCookie) {
				return nil, nil
			}
			return nil, err
		}
		token = c.Value
	}
	if token == "" {
		return nil, nil
	}
	claims, err := Parse(token, KindAccess, g.signingKey, g.issuer)
	if err != nil {
		return nil, err
	}
	return claims.Identity(), nil
}

// resolvePage is Resolve for browser requests: when the access cookie is
// gone or unusable and a refresh cookie is present, the pair is rotated and
// the new cookies are written to the response.
func (g *SessionGate) resolvePage(c *gin.Context) (*Identity, error) {
	id, err := g.Resolve(c.Request)
	if id != nil || g.refresher == nil || bearerToken(c.Request) != "" {
		return id, err
	}
	rc, cerr := c.Request.Cookie(RefreshCookie)
	if cerr != nil || rc.Value == "" {
		return nil, err
	}
	pair, refreshed, rerr := g.refresher.Refresh(c.Request.Context(), rc.Value)
	if rerr != nil {
		return nil, errors.Join(err, fmt.Errorf("refresh session: %w", rerr))
	}
	g.SetCookies(c, pair)
	g.logger.Debug("session refreshed", slog.String("user_id", refreshed.ID))
	return refreshed, nil
}

// Optional attaches the identity when present and never blocks. Unusable
// session cookies are cleared.
func (g *SessionGate) Optional() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := g.resolvePage(c)
		if err != nil && bearerToken(c.Request) == "" {
			g.ClearCookies(c)
		}
		if id != nil {
			c.Set(identityKey, id)
		}
		c.Next()
	}
}

// RequirePage redirects to the login page unless an identity resolves,
// renewing the session from the refresh cookie when it can. Any resolution
// failure is treated as anonymous.
func (g *SessionGate) RequirePage() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := g.resolvePage(c)
		if err != nil {
			g.logger.Warn("session resolution failed",
				slog.String("error", err.Error()),
				slog.String("path", c.Request.URL.Path),
			)
			g.ClearCookies(c)
		}
		if id == nil {
			c.Redirect(http.StatusFound, LoginPath)
			c.Abort()
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// RequireAPI answers 401 unless an identity resolves.
func (g *SessionGate) RequireAPI() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := g.Resolve(c.Request)
		if err != nil {
			g.logger.Debug("api token rejected", slog.String("error", err.Error()))
		}
		if id == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrNotAuthenticated.Error()})
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// SetCookies stores a token pair on the response.
func (g *SessionGate) SetCookies(c *gin.Context, pair TokenPair) {
	now := time.Now()
	setCookie(c, SessionCookie, pair.AccessToken, int(pair.AccessExp.Sub(now).Seconds()), g.secure)
	setCookie(c, RefreshCookie, pair.RefreshToken, int(pair.RefreshExp.Sub(now).Seconds()), g.secure)
}

// ClearCookies removes the session cookies.
func (g *SessionGate) ClearCookies(c *gin.Context) {
	setCookie(c, SessionCookie, "", -1, g.secure)
	setCookie(c, RefreshCookie, "", -1, g.secure)
}

func setCookie(c *gin.Context, name, value string, maxAge int, secure bool) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// IdentityFrom returns the identity set by the gate middlewares, or nil.
func IdentityFrom(c *gin.Context) *Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	id, _ := v.(*Identity)
	return id
}

func bearerToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if len(authz) < len("bearer ") || !strings.EqualFold(authz[:len("bearer ")], "bearer ") {
		return ""
	}
	return strings.TrimSpace(authz[len("bearer "):])
}
