package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"voxscribe/internal/metrics"
	"voxscribe/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PoolStats reports worker pool occupancy for the health endpoint.
type PoolStats interface {
	Size() int
	Active() int
	Queued() int
}

// NewRouter serves /health and /metrics.
func NewRouter(m *metrics.Metrics, pool PoolStats) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		if pool != nil {
			body["workers"] = pool.Size()
			body["active"] = pool.Active()
			body["queued"] = pool.Queued()
		}
		c.JSON(http.StatusOK, body)
	})

	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

type Server struct {
	srv *http.Server
}

func New(addr string, handler http.Handler) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	logger.Info("HTTP server listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
