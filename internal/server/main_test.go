package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendly/internal/attendance"
	"attendly/internal/auth"
	"attendly/internal/logging"
	"attendly/internal/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

type testEnv struct {
	app     *gin.Engine
	svc     *attendance.Service
	issuer  *auth.Issuer
	teacher model.User
	other   model.User
	admin   model.User
}

func setup(t *testing.T, checks ...map[string]HealthCheck) *testEnv {
	t.Helper()
	env := &testEnv{
		svc:    attendance.NewService(attendance.NewMemoryRepository(), attendance.WithBcryptCost(4)),
		issuer: auth.NewIssuer("attendly-test", "test-secret", time.Hour),
	}
	opts := Options{
		Service:     env.svc,
		Issuer:      env.issuer,
		Logger:      logging.Nop(),
		CORSOrigins: []string{"*"},
	}
	if len(checks) > 0 {
		opts.Checks = checks[0]
	}
	env.app = New(opts)

	ctx := context.Background()
	register := func(name, email, role string) model.User {
		u, err := env.svc.Register(ctx, attendance.NewUser{Name: name, Email: email, Password: "password1", Role: role})
		require.NoError(t, err)
		return u
	}
	env.teacher = register("Tess", "tess@school.test", model.RoleTeacher)
	env.other = register("Otto", "otto@school.test", model.RoleTeacher)
	env.admin = register("Ada", "ada@school.test", model.RoleAdmin)
	return env
}

func (e *testEnv) token(t *testing.T, u model.User) string {
	t.Helper()
	tok, err := e.issuer.Issue(u.ID, u.Role)
	require.NoError(t, err)
	return tok.AccessToken
}

func (e *testEnv) do(method, path, token string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.app.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) run(t *testing.T, tests []httpTest) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			rec := e.do(method, tt.path, tt.token, tt.body)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func marshalObj(t *testing.T, obj any) []byte {
	t.Helper()
	data, err := json.Marshal(obj)
	require.NoError(t, err)
	return data
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
	if tt.wantData != nil {
		assert.JSONEq(t, string(tt.wantData), rec.Body.String())
	}
}
