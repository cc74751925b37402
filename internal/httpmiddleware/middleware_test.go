package httpmiddleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendly/internal/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestTokenBucketAllow(t *testing.T) {
	clock := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	l := NewTokenBucket(2, 60, nil)
	l.now = func() time.Time { return clock }

	ok, _ := l.Allow("a")
	assert.True(t, ok)
	ok, _ = l.Allow("a")
	assert.True(t, ok)
	ok, retry := l.Allow("a")
	assert.False(t, ok)
	assert.InDelta(t, float64(time.Second), float64(retry), float64(time.Millisecond))

	ok, _ = l.Allow("b")
	assert.True(t, ok, "keys have separate buckets")

	clock = clock.Add(1500 * time.Millisecond)
	ok, _ = l.Allow("a")
	assert.True(t, ok, "refilled after a second and a half")
	ok, _ = l.Allow("a")
	assert.False(t, ok)

	clock = clock.Add(time.Hour)
	for i := 0; i < 2; i++ {
		ok, _ = l.Allow("a")
		assert.True(t, ok)
	}
	ok, _ = l.Allow("a")
	assert.False(t, ok, "refill is capped at capacity")
}

func TestTokenBucketForgetsIdleKeys(t *testing.T) {
	clock := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	l := NewTokenBucket(2, 60, nil)
	l.now = func() time.Time { return clock }

	for i := 0; i < 100; i++ {
		ok, _ := l.Allow("10.0.0." + strconv.Itoa(i))
		require.True(t, ok)
	}
	assert.Len(t, l.state, 100)

	clock = clock.Add(59 * time.Second)
	for i := 0; i < 2; i++ {
		ok, _ := l.Allow("busy")
		require.True(t, ok)
	}
	assert.Len(t, l.state, 101)

	// a second later the one-shot keys are full again, busy has one token
	clock = clock.Add(time.Second)
	ok, _ := l.Allow("new")
	assert.True(t, ok)
	assert.Len(t, l.state, 2)
	assert.Contains(t, l.state, "busy")
	assert.Contains(t, l.state, "new")

	ok, _ = l.Allow("busy")
	assert.True(t, ok)
	ok, _ = l.Allow("busy")
	assert.False(t, ok, "the drained bucket kept its state through the sweep")
}

func TestTokenBucketMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(NewTokenBucket(1, 1, func(c *gin.Context) string { return c.GetHeader("X-Key") }).Middleware())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	do := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("X-Key", key)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, do("k").Code)
	w := do("k")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, w.Body.String())
	assert.Equal(t, http.StatusOK, do("other").Code)
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	r := gin.New()
	r.Use(RequestLogger(zerolog.New(&buf)))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/classes", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Zero(t, buf.Len(), "health checks are not logged")

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/classes", nil))
	require.NotZero(t, buf.Len())
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), `"path":"/api/classes"`)
	assert.Contains(t, buf.String(), `"status":404`)
}

func TestMetrics(t *testing.T) {
	r := gin.New()
	r.Use(Metrics())
	r.GET("/api/classes/:class_id", func(c *gin.Context) { c.Status(http.StatusOK) })

	counter := metrics.HTTPRequests.WithLabelValues(http.MethodGet, "/api/classes/:class_id", "200")
	before := testutil.ToFloat64(counter)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/classes/abc", nil))
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}
