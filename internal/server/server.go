// Package server exposes the attendance service over HTTP.
package server

import (
	"context"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"attendly/internal/attendance"
	"attendly/internal/auth"
	"attendly/internal/httpmiddleware"
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) bool

// Options configures the router.
type Options struct {
	Service         *attendance.Service
	Issuer          *auth.Issuer
	Logger          zerolog.Logger
	RateLimitPerMin int
	CORSOrigins     []string
	Checks          map[string]HealthCheck
}

// Handler holds the dependencies of the HTTP handlers.
type Handler struct {
	svc    *attendance.Service
	issuer *auth.Issuer
	log    zerolog.Logger
	checks map[string]HealthCheck
}

var registerTagNames sync.Once

// New builds the gin engine with every route mounted.
func New(opts Options) *gin.Engine {
	registerTagNames.Do(useJSONFieldNames)

	h := &Handler{
		svc:    opts.Service,
		issuer: opts.Issuer,
		log:    opts.Logger,
		checks: opts.Checks,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(opts.Logger))
	r.Use(httpmiddleware.Metrics())
	r.Use(corsMiddleware(opts.CORSOrigins))
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	// scrapes and health checks are not charged to the caller
	if opts.RateLimitPerMin > 0 {
		api.Use(httpmiddleware.NewTokenBucket(opts.RateLimitPerMin, opts.RateLimitPerMin, httpmiddleware.ClientIP).Middleware())
	}
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)

	authed := api.Group("", auth.RequireUser(opts.Issuer))
	{
		authed.GET("/auth/me", h.Me)

		authed.POST("/classes", h.CreateClass)
		authed.GET("/classes", h.ListClasses)
		authed.GET("/classes/:class_id", h.GetClass)
		authed.PUT("/classes/:class_id", h.UpdateClass)
		authed.DELETE("/classes/:class_id", h.DeleteClass)

		authed.POST("/students", h.CreateStudent)
		authed.GET("/students", h.ListStudents)
		authed.GET("/students/:student_id", h.GetStudent)
		authed.PUT("/students/:student_id", h.UpdateStudent)
		authed.DELETE("/students/:student_id", h.DeleteStudent)

		authed.POST("/attendance", h.MarkAttendance)
		authed.POST("/attendance/bulk", h.MarkBulkAttendance)
		authed.GET("/attendance", h.ListAttendance)
		authed.GET("/attendance/report", h.Report)

		authed.GET("/dashboard/stats", h.DashboardStats)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	return r
}

// Healthz reports the state of each configured dependency.
func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	body := gin.H{}
	healthy := true
	for name, check := range h.checks {
		ok := check(ctx)
		body[name] = ok
		healthy = healthy && ok
	}
	code := http.StatusOK
	body["status"] = "ok"
	if !healthy {
		code = http.StatusServiceUnavailable
		body["status"] = "degraded"
	}
	c.JSON(code, body)
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       24 * time.Hour,
	}
	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
	}
	if allowAll {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}

// useJSONFieldNames makes binding errors name fields as clients send them.
func useJSONFieldNames() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			name, _, _ = strings.Cut(f.Tag.Get("form"), ",")
		}
		if name == "" {
			return f.Name
		}
		return name
	})
}
