// Package server exposes a small status HTTP surface next to the bot: a
// health check and read-only post counters for monitoring.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/egorkrivoshey335-create/bot-posts/internal/config"
	"github.com/egorkrivoshey335-create/bot-posts/internal/models"
	"github.com/egorkrivoshey335-create/bot-posts/internal/service"
)

type Server struct {
	Config *config.StatusConfig
	Router *gin.Engine
	Logger *zap.Logger
	Server *http.Server

	Store *service.Store
}

func NewServer(cfg *config.StatusConfig, store *service.Store, logger *zap.Logger) *Server {
	gin.SetMode(cfg.Mode)

	router := gin.New()

	srv := &Server{
		Config: cfg,
		Router: router,
		Logger: logger,
		Store:  store,
	}

	srv.setupMiddleware()
	srv.setupRoutes()

	return srv
}

func (s *Server) setupMiddleware() {
	s.Router.Use(gin.Recovery())

	s.Router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
	}))
}

func (s *Server) setupRoutes() {
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	api := s.Router.Group("/api/v1")
	{
		api.GET("/posts/summary", s.handlePostsSummary)
	}
}

func (s *Server) handlePostsSummary(c *gin.Context) {
	counts, err := s.Store.CountByStatus(c.Request.Context())
	if err != nil {
		s.Logger.Error("Failed to count posts", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count posts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"draft":     counts[models.StatusDraft],
		"scheduled": counts[models.StatusScheduled],
		"published": counts[models.StatusPublished],
		"failed":    counts[models.StatusFailed],
	})
}

func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.Config.Host, s.Config.Port)

	s.Server = &http.Server{
		Addr:    addr,
		Handler: s.Router,
	}

	s.Logger.Info("Starting status server", zap.String("addr", addr))

	return s.Server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.Server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return s.Server.Shutdown(shutdownCtx)
}
