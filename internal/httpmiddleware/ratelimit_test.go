package httpmiddleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func init() { gin.SetMode(gin.TestMode) }

func TestTokenBucket_ExhaustsAndRefills(t *testing.T) {
	t.Parallel()
	now := time.Unix(0, 0)
	l := NewTokenBucket(2, 60)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if ok, _ := l.Allow(ctx, "ip"); !ok {
			t.Fatalf("request %d rejected", i)
		}
	}
	if ok, _ := l.Allow(ctx, "ip"); ok {
		t.Fatalf("third request allowed")
	}
	if ok, _ := l.Allow(ctx, "other"); !ok {
		t.Fatalf("keys must be independent")
	}

	now = now.Add(time.Second)
	if ok, _ := l.Allow(ctx, "ip"); !ok {
		t.Fatalf("token not refilled after 1s at 60/min")
	}
}

type stubLimiter struct {
	ok  bool
	err error
}

func (s stubLimiter) Allow(context.Context, string) (bool, error) { return s.ok, s.err }

func serve(l Limiter, path string) *httptest.ResponseRecorder {
	r := gin.New()
	r.Use(RateLimit(l, slog.New(slog.NewTextHandler(io.Discard, nil))))
	r.GET(path, func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestRateLimit_Rejects(t *testing.T) {
	t.Parallel()
	w := serve(stubLimiter{ok: false}, "/v1/passes/x")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("code=%d want 429", w.Code)
	}
	if w.Header().Get("Content-Type") == "" {
		t.Fatalf("api rejection should be json")
	}
}

func TestRateLimit_FailsOpen(t *testing.T) {
	t.Parallel()
	w := serve(stubLimiter{ok: true, err: errors.New("redis down")}, "/dashboard")
	if w.Code != http.StatusOK {
		t.Fatalf("code=%d want 200", w.Code)
	}
}

func TestRedisWindow_KeyPerMinute(t *testing.T) {
	t.Parallel()
	l := NewRedisWindow(nil, 10)
	l.now = func() time.Time { return time.Unix(120, 0) }
	if got := l.windowKey("1.2.3.4"); got != "studx:ratelimit:1.2.3.4:2" {
		t.Fatalf("key=%q", got)
	}
}

func TestSecurityHeaders(t *testing.T) {
	t.Parallel()
	r := gin.New()
	r.Use(SecurityHeaders(true))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Header().Get("X-Frame-Options") != "DENY" || w.Header().Get("Strict-Transport-Security") == "" {
		t.Fatalf("headers=%v", w.Header())
	}
}
