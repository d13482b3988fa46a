// Package status serves a read-only HTTP view of a running node.
package status

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Operative-001/vee/internal/directory"
	"github.com/Operative-001/vee/internal/metrics"
)

const shutdownTimeout = 5 * time.Second

// Source is the node state the server exposes.
type Source interface {
	Name() string
	Address() string
	IsBroker() bool
	Directory() *directory.Directory
	Metrics() *metrics.Metrics
}

// NodeInfo is the body of GET /node.
type NodeInfo struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Role    string `json:"role"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Server is the status HTTP surface of one node.
type Server struct {
	addr   string
	src    Source
	router *gin.Engine
	logger *zap.Logger
}

// New builds a server for src that will listen on addr.
func New(addr string, src Source, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		addr:   addr,
		src:    src,
		router: gin.New(),
		logger: logger,
	}
	s.router.Use(loggingMiddleware(logger), gin.Recovery())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/node", s.handleNode)
	s.router.GET("/directory", s.handleDirectory)
	s.router.GET("/metrics", gin.WrapH(s.src.Metrics().Handler()))
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()
	s.logger.Info("status server listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-served:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if serveErr := <-served; !errors.Is(serveErr, http.ErrServerClosed) {
		err = multierr.Append(err, serveErr)
	}
	s.logger.Info("status server stopped")
	return err
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleNode(c *gin.Context) {
	role := "peer"
	if s.src.IsBroker() {
		role = "broker"
	}
	c.JSON(http.StatusOK, NodeInfo{
		Name:    s.src.Name(),
		Address: s.src.Address(),
		Role:    role,
	})
}

func (s *Server) handleDirectory(c *gin.Context) {
	if !s.src.IsBroker() {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "directory is kept by the broker only"})
		return
	}
	c.JSON(http.StatusOK, s.src.Directory().All())
}
