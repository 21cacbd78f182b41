// Package debugapi exposes kacchiOS's three subsystems over HTTP for
// remote inspection and control — the hosted-build equivalent of plugging
// a second terminal into the serial console. Grounded on the teacher's
// cmd/zmux-server main.go for router assembly and on its internal/http
// middleware stack for auth/CSRF/request-id.
package debugapi

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/secure"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	"github.com/kacchi-os/kernel/internal/debugapi/middleware"
	"github.com/kacchi-os/kernel/internal/kernel/driver"
	"github.com/kacchi-os/kernel/internal/kernel/memory"
	"github.com/kacchi-os/kernel/internal/kernel/processmgr"
)

// Kernel is the set of subsystems the debug API reads from and mutates.
type Kernel struct {
	Memory    *memory.Allocator
	Processes *processmgr.Manager
	Scheduler *processmgr.Scheduler
	Events    *processmgr.EventLog
	Driver    *driver.Driver
}

// Server wraps an *http.Server bound to a gin.Engine.
type Server struct {
	log  *zap.Logger
	http *http.Server
}

// NewServer builds the debug API router. sessionStore backs admin login;
// creds gates both Basic and session auth.
func NewServer(log *zap.Logger, addr string, kernel Kernel, sessionStore sessions.Store, creds middleware.Credentials) *Server {
	log = log.Named("debugapi")
	binding.EnableDecoderDisallowUnknownFields = true
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	_ = r.SetTrustedProxies([]string{"127.0.0.1"})

	r.Use(gin.Recovery())
	r.Use(secure.New(secure.Config{
		SSLRedirect:           false,
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ContentSecurityPolicy: "default-src 'none'",
	}))

	if os.Getenv("KACCHI_ENV") == "dev" {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     []string{"http://localhost:5173"},
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Authorization", "X-CSRF-Token"},
			ExposeHeaders:    []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.Use(middleware.RequestID())
	r.Use(zapLogger(log))
	r.Use(sessions.Sessions("kacchi_sid", sessionStore))

	gate := middleware.NewGate(8)

	h := &handlers{log: log, kernel: kernel, creds: creds}
	r.POST("/api/login", h.login)
	r.POST("/api/logout", h.logout)

	authed := r.Group("/api")
	authed.Use(middleware.Authentication(creds))
	authed.Use(middleware.ValidateSessionCSRF)
	authed.Use(middleware.Middleware(gate))
	{
		authed.GET("/ping", h.ping)
		authed.GET("/mem", h.memStatus)
		authed.GET("/ps", h.processTable)
		authed.GET("/ps/:pid", h.processOne)
		authed.GET("/sched", h.schedStatus)
		authed.GET("/events", h.events)
		authed.POST("/ps", h.createProcess)
		authed.DELETE("/ps/:pid", h.terminateProcess)
		authed.POST("/tick", h.tick)
		authed.POST("/age", h.applyAging)
	}

	httpServer := &http.Server{
		Addr:           addr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 15,
		ErrorLog:       zap.NewStdLog(log.Named("http").WithOptions(zap.AddCallerSkip(1))),
	}

	return &Server{log: log, http: httpServer}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("debug API listening", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("debug API shutdown error", zap.Error(err))
		}
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func zapLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.Duration("latency", latency),
		}

		switch {
		case status >= 500:
			log.Error("request", fields...)
		case status >= 400:
			log.Warn("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}
