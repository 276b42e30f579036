// Package api exposes the attendance service over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"classattend/internal/assistant"
	"classattend/internal/attendance"
	"classattend/internal/auth"
	"classattend/internal/cloudinary"
	"classattend/internal/httpmiddleware"
	"classattend/internal/session"
)

// PhotoUploader stores teacher profile photos.
type PhotoUploader interface {
	Configured() bool
	UploadBytes(ctx context.Context, data []byte, filename string) (*cloudinary.UploadResult, error)
	UploadBase64(ctx context.Context, data string) (*cloudinary.UploadResult, error)
}

// Deps are the collaborators of the HTTP layer.
type Deps struct {
	Service   *attendance.Service
	Sessions  *session.Manager
	Assistant *assistant.Assistant
	Signer    auth.Signer
	Photos    PhotoUploader
	// Checks are reported by /healthz; any false check returns 503.
	Checks          map[string]func(context.Context) bool
	RateLimitPerMin int
	CORSOrigins     []string
	Log             *slog.Logger
}

// Handler holds the HTTP handlers.
type Handler struct {
	svc       *attendance.Service
	sessions  *session.Manager
	assistant *assistant.Assistant
	photos    PhotoUploader
	checks    map[string]func(context.Context) bool
	log       *slog.Logger
}

// NewRouter builds the gin engine with every route.
func NewRouter(d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	h := &Handler{
		svc:       d.Service,
		sessions:  d.Sessions,
		assistant: d.Assistant,
		photos:    d.Photos,
		checks:    d.Checks,
		log:       d.Log,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware(d.CORSOrigins))
	r.Use(securityHeaders())
	r.Use(httpmiddleware.Metrics())
	if d.RateLimitPerMin > 0 {
		r.Use(httpmiddleware.NewSimpleTokenBucket(d.RateLimitPerMin, d.RateLimitPerMin).GinMiddleware(rateKey(d.Signer)))
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.Healthz)

	v1 := r.Group("/v1")
	v1.POST("/teacher/login", h.TeacherLogin)
	v1.POST("/teacher/register", h.TeacherRegister)
	v1.POST("/students/register", h.StudentRegister)
	v1.POST("/students/login", h.StudentLogin)
	v1.GET("/classes/public", h.PublicClasses)

	me := v1.Group("/me", auth.Bearer(d.Signer), auth.RequireRole(auth.RoleStudent))
	me.GET("", h.Me)
	me.GET("/attendance", h.MyAttendance)
	me.GET("/streak", h.MyStreak)
	me.POST("/attendance/:classId", h.MarkPresent)
	me.POST("/justifications", h.Justify)

	t := v1.Group("", auth.Bearer(d.Signer), auth.RequireRole(auth.RoleTeacher))
	t.GET("/teacher/profile", h.TeacherProfile)
	t.PATCH("/teacher/profile", h.UpdateTeacherProfile)
	t.PUT("/teacher/photo", h.UploadTeacherPhoto)

	t.GET("/classes", h.ListClasses)
	t.POST("/classes", h.CreateClass)
	t.GET("/classes/compare", h.CompareClasses)
	t.PATCH("/classes/:id", h.RenameClass)
	t.DELETE("/classes/:id", h.DeleteClass)
	t.GET("/classes/:id/stats", h.ClassStats)
	t.GET("/classes/:id/history", h.ClassHistory)
	t.GET("/classes/:id/summary", h.ClassSummary)
	t.GET("/classes/:id/export", h.ClassExport)
	t.GET("/classes/:id/attendance", h.ClassAttendance)

	t.PUT("/attendance", h.SetStatus)
	t.POST("/justifications/:recordId/decision", h.DecideJustification)

	t.GET("/students", h.ListStudents)
	t.GET("/students/:id/profile", h.StudentProfile)
	t.PUT("/students/:id/classes", h.SetEnrollment)

	t.GET("/communications", h.ListCommunications)
	t.POST("/communications/draft", h.DraftCommunication)
	t.POST("/communications", h.LogCommunication)

	t.POST("/assistant/summary", h.AssistantSummary)
	t.POST("/assistant/analysis", h.AssistantAnalysis)
	t.POST("/assistant/risk", h.AssistantRisk)
	t.POST("/assistant/compare", h.AssistantCompare)

	return r
}

// rateKey buckets authenticated callers by token subject and everyone else by IP.
func rateKey(signer auth.Signer) httpmiddleware.KeyFunc {
	return func(c *gin.Context) string {
		authz := c.GetHeader("Authorization")
		if len(authz) > len("bearer ") {
			if claims, err := signer.Parse(authz[len("bearer "):]); err == nil {
				return claims.Role + ":" + claims.Subject
			}
		}
		return httpmiddleware.ByIP(c)
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        24 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
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

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.checks {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}
