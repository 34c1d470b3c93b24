package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rollcall/internal/audit"
	"rollcall/internal/auth"
	"rollcall/internal/checkin"
	"rollcall/internal/config"
	"rollcall/internal/directory"
	"rollcall/internal/geo"
	"rollcall/internal/httpmiddleware"
	"rollcall/internal/metrics"
	"rollcall/internal/notify"
	"rollcall/internal/queue"
	"rollcall/internal/session"
	"rollcall/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()
	if err := store.Migrate(context.Background(), db.Client); err != nil {
		log.Fatalf("migrate failed: %v", err)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	var stale *session.StaleTokens
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "rollcall:audit")
		stale = session.NewStaleTokens(redisClient.Client, cfg.TokenTTL)
	}

	dir := directory.New(cfg.DirectoryURL, cfg.DirectorySkip)
	hub := notify.NewHub()
	recorder := audit.NewRecorder(q)

	sessions := session.NewRepository(db.Client)
	records := checkin.NewRepository(db.Client)
	auditRepo := audit.NewRepository(db.Client)

	mgr := session.NewManager(sessions, hub, stale, session.Config{
		RotateEvery: cfg.RotateEvery,
		TokenTTL:    cfg.TokenTTL,
		SweepGrace:  cfg.SweepGrace,
	})
	defer mgr.Shutdown()

	pipeline := checkin.NewPipeline(sessions, records, recorder, hub, stale, checkin.Config{
		BaseRadiusM:     cfg.BaseRadiusM,
		GeofenceEnabled: cfg.GeofenceEnabled,
		PresentWithin:   cfg.PresentWithin,
		LateWithin:      cfg.LateWithin,
	})
	reconciler := checkin.NewReconciler(sessions, records, hub)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/devices/register", func(c *gin.Context) {
		var req struct {
			DeviceID string `json:"device_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := records.UpsertDevice(c.Request.Context(), req.DeviceID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		token, expiresAt, err := auth.Issue(req.DeviceID, auth.RoleDevice, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token": token,
			"expires_at":   expiresAt.Unix(),
		})
	})

	r.POST("/v1/presenters/token", func(c *gin.Context) {
		var req struct {
			PresenterID string `json:"presenter_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := dir.VerifyPresenter(c.Request.Context(), req.PresenterID); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		token, expiresAt, err := auth.Issue(req.PresenterID, auth.RolePresenter, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token": token,
			"expires_at":   expiresAt.Unix(),
		})
	})

	// snapshot for late-joining dashboards: current session state plus tally,
	// instead of event replay
	r.GET("/v1/sessions/:id", func(c *gin.Context) {
		s, err := sessions.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		tally, err := records.Tally(c.Request.Context(), s.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"session": s,
			"phase":   s.PhaseAt(time.Now()),
			"tally":   tally,
		})
	})

	r.GET("/v1/sessions/:id/events", func(c *gin.Context) {
		id := c.Param("id")
		if _, err := sessions.Get(c.Request.Context(), id); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		ch, cancel := hub.Subscribe(id, 32)
		defer cancel()

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Stream(func(w io.Writer) bool {
			select {
			case e, ok := <-ch:
				if !ok {
					return false
				}
				c.SSEvent(e.Kind, e)
				return true
			case <-c.Request.Context().Done():
				return false
			}
		})
	})

	r.POST("/v1/sweep", func(c *gin.Context) {
		ids, err := mgr.Sweep(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		for range ids {
			metrics.SessionsEnded.WithLabelValues("sweep").Inc()
		}
		c.JSON(http.StatusOK, gin.H{"ended": ids, "count": len(ids)})
	})

	presenter := r.Group("/v1", auth.RequireRole(cfg.JWTSigningKey, cfg.JWTIssuer, auth.RolePresenter))

	presenter.POST("/sessions", func(c *gin.Context) {
		var req struct {
			ClassID       string       `json:"class_id" binding:"required"`
			WindowMinutes int          `json:"window_minutes" binding:"required"`
			Anchor        geo.Location `json:"anchor"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		presenterID := auth.FromContext(c).Subject

		if err := dir.VerifyClass(c.Request.Context(), req.ClassID, presenterID); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		s, err := mgr.Start(c.Request.Context(), req.ClassID, presenterID, req.Anchor, req.WindowMinutes)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		metrics.SessionsStarted.Inc()
		c.JSON(http.StatusCreated, gin.H{
			"session":          s,
			"token":            s.CurrentToken,
			"token_expires_at": s.TokenExpiresAt,
		})
	})

	presenter.POST("/sessions/:id/end", func(c *gin.Context) {
		err := mgr.End(c.Request.Context(), c.Param("id"), auth.FromContext(c).Subject)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		metrics.SessionsEnded.WithLabelValues("explicit").Inc()
		c.Status(http.StatusNoContent)
	})

	presenter.PUT("/sessions/:id/attendance/:attendeeID", func(c *gin.Context) {
		var req struct {
			Status checkin.Status `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rec, err := reconciler.SetStatus(c.Request.Context(),
			c.Param("id"), auth.FromContext(c).Subject, c.Param("attendeeID"), req.Status)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		if rec == nil {
			c.Status(http.StatusNoContent)
			return
		}
		c.JSON(http.StatusOK, gin.H{"record": rec})
	})

	presenter.GET("/sessions/:id/records", func(c *gin.Context) {
		res, err := records.ListBySession(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": res})
	})

	presenter.GET("/sessions/:id/audit", func(c *gin.Context) {
		limit := 100
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		entries, err := auditRepo.ListBySession(c.Request.Context(), c.Param("id"), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries})
	})

	device := r.Group("/v1", auth.RequireRole(cfg.JWTSigningKey, cfg.JWTIssuer, auth.RoleDevice))

	device.POST("/claims", func(c *gin.Context) {
		var req checkin.Claim
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Token == "" || req.DeviceID == "" || req.AttendeeID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token, device_id and attendee_id required"})
			return
		}
		if subject := auth.FromContext(c).Subject; subject != "" && subject != req.DeviceID {
			c.JSON(http.StatusForbidden, gin.H{"error": "device mismatch"})
			return
		}

		out, err := pipeline.Submit(c.Request.Context(), req)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "claim could not be processed, retry"})
			return
		}
		if !out.Accepted {
			metrics.Claims.WithLabelValues("rejected", string(out.Reason)).Inc()
			c.JSON(http.StatusUnprocessableEntity, out)
			return
		}
		metrics.Claims.WithLabelValues("accepted", "").Inc()
		c.JSON(http.StatusOK, out)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// statusFor maps engine errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrActiveSessionExists):
		return http.StatusConflict
	case errors.Is(err, session.ErrNotPresenter), errors.Is(err, directory.ErrNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, checkin.ErrInvalidStatus):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
