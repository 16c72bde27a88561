package buspass

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"studx/internal/auth"
	"studx/internal/metrics"
)

// VerificationURL is the value encoded into a pass QR symbol: {origin}/pass/{id}.
func VerificationURL(origin, id string) string {
	return strings.TrimRight(origin, "/") + "/pass/" + url.PathEscape(id)
}

// PassView is what the pass page renders.
type PassView struct {
	Found     bool
	Record    Record
	VerifyURL string
}

// Resolver loads records for the pass and confirmation views.
type Resolver struct {
	store   Store
	timeout time.Duration
	logger  *slog.Logger
}

// NewResolver creates a resolver reading from store.
func NewResolver(store Store, timeout time.Duration, logger *slog.Logger) *Resolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Resolver{store: store, timeout: timeout, logger: logger.With(slog.String("component", "pass_resolver"))}
}

// Resolve fetches record id. A missing record and any store failure both
// yield an unfound view; failures are logged.
func (r *Resolver) Resolve(ctx context.Context, origin, id string) PassView {
	if strings.TrimSpace(id) == "" {
		return PassView{}
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rec, err := r.store.GetByID(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		metrics.PassLookups.WithLabelValues("pass", "not_found").Inc()
		return PassView{}
	case err != nil:
		metrics.PassLookups.WithLabelValues("pass", "error").Inc()
		r.logger.Error("failed to load pass details", slog.String("pass_id", id), slog.String("error", err.Error()))
		return PassView{}
	}
	metrics.PassLookups.WithLabelValues("pass", "found").Inc()
	return PassView{Found: true, Record: rec, VerifyURL: VerificationURL(origin, rec.ID)}
}

// DashboardKind selects what the dashboard shows.
type DashboardKind int

const (
	// DashboardEmpty: no application yet, show the call to action.
	DashboardEmpty DashboardKind = iota
	// DashboardFound: show the record.
	DashboardFound
	// DashboardDegraded: the lookup failed; render the page without data.
	DashboardDegraded
	// DashboardRedirect: the store rejected the session; go to login.
	DashboardRedirect
)

// DashboardState is the dashboard's view model.
type DashboardState struct {
	Kind   DashboardKind
	Record Record
}

// Dashboard loads the signed-in user's application.
type Dashboard struct {
	store   Store
	timeout time.Duration
	logger  *slog.Logger
}

// NewDashboard creates a dashboard reading from store.
func NewDashboard(store Store, timeout time.Duration, logger *slog.Logger) *Dashboard {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dashboard{store: store, timeout: timeout, logger: logger.With(slog.String("component", "dashboard"))}
}

// Load returns the dashboard state for id.
func (d *Dashboard) Load(ctx context.Context, id *auth.Identity) DashboardState {
	if id == nil {
		return DashboardState{Kind: DashboardRedirect}
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	rec, err := d.store.GetByUser(ctx, id.ID)
	switch {
	case err == nil:
		metrics.PassLookups.WithLabelValues("dashboard", "found").Inc()
		return DashboardState{Kind: DashboardFound, Record: rec}
	case errors.Is(err, ErrNotFound):
		metrics.PassLookups.WithLabelValues("dashboard", "not_found").Inc()
		return DashboardState{Kind: DashboardEmpty}
	}

	metrics.PassLookups.WithLabelValues("dashboard", "error").Inc()
	d.logger.Error("failed to load application record", slog.String("user_id", id.ID), slog.String("error", err.Error()))
	if errors.Is(err, auth.ErrNotAuthenticated) || strings.Contains(err.Error(), "not authenticated") {
		return DashboardState{Kind: DashboardRedirect}
	}
	return DashboardState{Kind: DashboardDegraded}
}
