package mid_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/carvexyz/carve/business/sys/validate"
	"github.com/carvexyz/carve/business/web/errs"
	"github.com/carvexyz/carve/business/web/mid"
	"github.com/carvexyz/carve/foundation/web"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newApp(t *testing.T, handler web.Handler, mw ...web.Middleware) *web.App {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()

	shutdown := make(chan os.Signal, 1)
	app := web.NewApp(shutdown, mid.Logger(log), mid.Errors(log), mid.Metrics(), mid.Panics())
	app.Handle(http.MethodPost, "v1", "/test", handler, mw...)

	return app
}

func call(app http.Handler, header http.Header) (*httptest.ResponseRecorder, errs.Response) {
	r := httptest.NewRequest(http.MethodPost, "/v1/test", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	for k, v := range header {
		r.Header[k] = v
	}

	w := httptest.NewRecorder()
	app.ServeHTTP(w, r)

	var er errs.Response
	_ = json.Unmarshal(w.Body.Bytes(), &er)

	return w, er
}

func ok(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, map[string]string{"status": "ok"}, http.StatusOK)
}

func TestErrorsMapping(t *testing.T) {
	trusted := newApp(t, func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		return errs.NewTrusted(errors.New("no such carving"), http.StatusNotFound)
	})
	w, er := call(trusted, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "no such carving", er.Error)

	fields := newApp(t, func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		return validate.Check(struct {
			Email string `json:"email" validate:"required"`
		}{})
	})
	w, er = call(fields, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, er.Fields, "email")

	internal := newApp(t, func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		return errors.New("database exploded")
	})
	w, er = call(internal, nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Equal(t, http.StatusText(http.StatusInternalServerError), er.Error)

	panics := newApp(t, func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		panic("boom")
	})
	w, _ = call(panics, nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestAdminKey(t *testing.T) {
	app := newApp(t, ok, mid.AdminKey(func() string { return "sekret" }))

	w, _ := call(app, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w, _ = call(app, http.Header{mid.AdminKeyHeader: {"wrong"}})
	require.Equal(t, http.StatusForbidden, w.Code)

	w, _ = call(app, http.Header{mid.AdminKeyHeader: {"sekret"}})
	require.Equal(t, http.StatusOK, w.Code)

	empty := newApp(t, ok, mid.AdminKey(func() string { return "" }))
	w, _ = call(empty, http.Header{mid.AdminKeyHeader: {""}})
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestRateLimitLocal(t *testing.T) {
	log := zaptest.NewLogger(t).Sugar()
	app := newApp(t, ok, mid.RateLimit(log, mid.NewLocalLimiter(), func() int { return 2 }, time.Minute, 0))

	for range 2 {
		w, _ := call(app, nil)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w, _ := call(app, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestRateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	log := zaptest.NewLogger(t).Sugar()
	app := newApp(t, ok, mid.RateLimit(log, mid.NewLocalLimiter(), func() int { return 2 }, time.Minute, 0))

	codes := make([]int, 0, 5)
	for i := range 5 {
		w, _ := call(app, http.Header{"X-Forwarded-For": {fmt.Sprintf("203.0.113.%d", i)}})
		codes = append(codes, w.Code)
	}

	require.Equal(t, []int{200, 200, 429, 429, 429}, codes)
}

func TestRateLimitBehindProxy(t *testing.T) {
	log := zaptest.NewLogger(t).Sugar()
	app := newApp(t, ok, mid.RateLimit(log, mid.NewLocalLimiter(), func() int { return 1 }, time.Minute, 1))

	// The proxy appends the real client after whatever the client sent.
	for i := range 3 {
		spoofed := fmt.Sprintf("198.51.100.%d, 192.0.2.7", i)
		w, _ := call(app, http.Header{"X-Forwarded-For": {spoofed}})
		if i == 0 {
			require.Equal(t, http.StatusOK, w.Code)
			continue
		}
		require.Equal(t, http.StatusTooManyRequests, w.Code)
	}

	w, _ := call(app, http.Header{"X-Forwarded-For": {"192.0.2.8"}})
	require.Equal(t, http.StatusOK, w.Code)

	// Fewer hops than proxies means the header was not set by our proxy.
	w, _ = call(app, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = call(app, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRedisLimiter(t *testing.T) {
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l := mid.NewRedisLimiter(client, "rl_test")
	ctx := context.Background()

	allowed, _, err := l.Allow(ctx, "k", 1, time.Second)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, retry, err := l.Allow(ctx, "k", 1, time.Second)
	require.NoError(t, err)
	require.False(t, allowed)
	require.Positive(t, retry)

	m.FastForward(2 * time.Second)

	allowed, _, err = l.Allow(ctx, "k", 1, time.Second)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestRateLimitFailsOpen(t *testing.T) {
	log := zaptest.NewLogger(t).Sugar()
	app := newApp(t, ok, mid.RateLimit(log, mid.NewRedisLimiter(nil, ""), func() int { return 1 }, time.Minute, 0))

	for range 3 {
		w, _ := call(app, nil)
		require.Equal(t, http.StatusOK, w.Code)
	}
}
