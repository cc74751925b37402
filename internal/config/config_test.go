package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HTTP_PORT", "")
	t.Setenv("ACCESS_TTL", "")
	t.Setenv("CORS_ORIGINS", "")

	cfg := Load()
	assert.Equal(t, "8081", cfg.HTTPPort)
	assert.Equal(t, 24*time.Hour, cfg.AccessTTL)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("ACCESS_TTL", "90m")
	t.Setenv("RATE_LIMIT_PER_MIN", "30")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("REPORT_CACHE_TTL", "not-a-duration")

	cfg := Load()
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "9000", cfg.HTTPPort)
	assert.Equal(t, 90*time.Minute, cfg.AccessTTL)
	assert.Equal(t, 30, cfg.RateLimitPerMin)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 10*time.Minute, cfg.ReportCacheTTL)
}

func TestLoadClient(t *testing.T) {
	t.Setenv("API_URL", "http://school.example/api/")
	t.Setenv("ATTENDCTL_TOKEN_FILE", "/tmp/token")

	cfg := LoadClient()
	assert.Equal(t, "http://school.example/api", cfg.APIURL)
	assert.Equal(t, "/tmp/token", cfg.TokenFile)
}
