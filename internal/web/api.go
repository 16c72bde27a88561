package web

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"studx/internal/auth"
	"studx/internal/buspass"
)

type credentials struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func tokenResponse(pair auth.TokenPair, id *auth.Identity) gin.H {
	return gin.H{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"expires_at":    pair.AccessExp.Unix(),
		"user":          id,
	}
}

func (h *Handler) apiSignUp(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := h.deps.Accounts.SignUp(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, auth.ErrEmailTaken) {
			code = http.StatusConflict
		}
		c.JSON(code, gin.H{"error": err.Error()})
		return
	}
	h.respondWithSession(c, http.StatusCreated, id)
}

func (h *Handler) apiLogin(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := h.deps.Accounts.SignIn(c.Request.Context(), req.Email, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("sign in failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign in failed"})
		return
	}
	h.respondWithSession(c, http.StatusOK, id)
}

func (h *Handler) respondWithSession(c *gin.Context, code int, id *auth.Identity) {
	pair, err := h.deps.Accounts.IssueSession(c.Request.Context(), *id)
	if err != nil {
		h.logger.Error("session issue failed", slog.String("user_id", id.ID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(code, tokenResponse(pair, id))
}

func (h *Handler) apiRefresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pair, id, err := h.deps.Accounts.Refresh(c.Request.Context(), req.RefreshToken)
	switch {
	case errors.Is(err, auth.ErrNotAuthenticated), errors.Is(err, auth.ErrTokenRevoked):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case err != nil:
		h.logger.Error("token refresh failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token refresh failed"})
	default:
		c.JSON(http.StatusOK, tokenResponse(pair, id))
	}
}

func (h *Handler) apiLogout(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.deps.Accounts.SignOut(c.Request.Context(), req.RefreshToken); err != nil {
		h.logger.Warn("sign out failed", slog.String("error", err.Error()))
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) apiSubmit(c *gin.Context) {
	id := auth.IdentityFrom(c)
	d, err := readDraft(c, id, h.deps.MaxUploadBytes)
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, errUploadTooLarge) {
			code = http.StatusRequestEntityTooLarge
		}
		c.JSON(code, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.deps.Submitter.Submit(c.Request.Context(), id, d)
	var invalid *buspass.ValidationError
	var step *buspass.StepError
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{
			"pass":       rec,
			"verify_url": buspass.VerificationURL(h.origin(c.Request), rec.ID),
		})
	case errors.Is(err, auth.ErrNotAuthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.As(err, &invalid):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "missing": invalid.Missing})
	case errors.Is(err, buspass.ErrSubmissionInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &step):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "step": step.Step})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *Handler) apiMyApplication(c *gin.Context) {
	state := h.deps.Dashboard.Load(c.Request.Context(), auth.IdentityFrom(c))
	switch state.Kind {
	case buspass.DashboardFound:
		c.JSON(http.StatusOK, gin.H{"pass": state.Record})
	case buspass.DashboardEmpty:
		c.JSON(http.StatusNotFound, gin.H{"error": buspass.ErrNotFound.Error()})
	case buspass.DashboardRedirect:
		c.JSON(http.StatusUnauthorized, gin.H{"error": auth.ErrNotAuthenticated.Error()})
	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "application lookup failed"})
	}
}

func (h *Handler) apiPass(c *gin.Context) {
	view := h.deps.Resolver.Resolve(c.Request.Context(), h.origin(c.Request), c.Param("id"))
	if !view.Found {
		c.JSON(http.StatusNotFound, gin.H{"error": buspass.ErrNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"pass":       view.Record,
		"vias":       view.Record.Vias(),
		"verify_url": view.VerifyURL,
	})
}
