package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() { gin.SetMode(gin.TestMode) }

func TestIssueAndParse(t *testing.T) {
	iss := NewIssuer("attendly", "secret", time.Hour)
	tok, err := iss.Issue("user-1", "teacher")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.ExpiresAt, 5*time.Second)

	claims, err := iss.Parse(tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "teacher", claims.Role)
}

func TestParseRejects(t *testing.T) {
	iss := NewIssuer("attendly", "secret", time.Hour)
	tok, err := iss.Issue("user-1", "teacher")
	require.NoError(t, err)

	_, err = NewIssuer("attendly", "other", time.Hour).Parse(tok.AccessToken)
	assert.Error(t, err, "wrong key")

	_, err = NewIssuer("someone-else", "secret", time.Hour).Parse(tok.AccessToken)
	assert.Error(t, err, "wrong issuer")

	expired := &Issuer{Name: "attendly", Key: []byte("secret"), TTL: -time.Minute}
	old, err := expired.Issue("user-1", "teacher")
	require.NoError(t, err)
	_, err = iss.Parse(old.AccessToken)
	assert.Error(t, err, "expired")

	_, err = iss.Parse("garbage")
	assert.Error(t, err)
}

func TestPassword(t *testing.T) {
	h, err := HashPassword("s3cret!", 4)
	require.NoError(t, err)
	assert.True(t, CheckPassword(h, "s3cret!"))
	assert.False(t, CheckPassword(h, "wrong"))
	assert.False(t, CheckPassword("not-a-hash", "s3cret!"))
}

func TestMiddleware(t *testing.T) {
	iss := NewIssuer("attendly", "secret", time.Hour)
	teacher, _ := iss.Issue("t1", "teacher")

	r := gin.New()
	r.GET("/me", RequireUser(iss), func(c *gin.Context) {
		claims, _ := ClaimsFrom(c)
		c.String(http.StatusOK, claims.Subject)
	})

	tests := []struct {
		name     string
		path     string
		header   string
		wantCode int
		wantBody string
	}{
		{"no header", "/me", "", http.StatusUnauthorized, ""},
		{"not bearer", "/me", "Basic abc", http.StatusUnauthorized, ""},
		{"bad token", "/me", "Bearer abc", http.StatusUnauthorized, ""},
		{"teacher", "/me", "Bearer " + teacher.AccessToken, http.StatusOK, "t1"},
		{"lowercase scheme", "/me", "bearer " + teacher.AccessToken, http.StatusOK, "t1"},
		{"empty token", "/me", "Bearer ", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}
