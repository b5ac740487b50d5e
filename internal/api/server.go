// Package api exposes the sync service over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mschirtzinger/tasksync/internal/dashboard"
	"github.com/mschirtzinger/tasksync/internal/sync"
)

// maxBodySize bounds push and clear request bodies.
const maxBodySize = 8 << 20 // 8MB

// Config holds server configuration
type Config struct {
	// Hub serves /ws when set
	Hub *dashboard.Hub

	// Logger for access and error logs (default: slog.Default())
	Logger *slog.Logger

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the tasksync HTTP server
type Server struct {
	svc    *sync.Service
	hub    *dashboard.Hub
	router *gin.Engine
	logger *slog.Logger
	cfg    Config
}

// NewServer creates a server routing requests to svc.
func NewServer(svc *sync.Service, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "api")

	router := gin.New()
	router.Use(gin.Recovery(), requestID(), accessLog(logger))

	s := &Server{
		svc:    svc,
		hub:    cfg.Hub,
		router: router,
		logger: logger,
		cfg:    cfg,
	}

	router.GET("/health", s.handleHealth)
	if s.hub != nil {
		router.GET("/ws", gin.WrapH(s.hub))
	}

	api := router.Group("/api/sync")
	{
		api.POST("/push", s.handlePush)
		api.GET("/pull", s.handlePull)
		api.GET("/status", s.handleStatus)
		api.POST("/clear", s.handleClear)
	}

	return s
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
