// Package httpserver serves the read API over the stored people/company graph.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tinytelemetry/harmonic/internal/ingest"
	"github.com/tinytelemetry/harmonic/internal/model"
)

const (
	defaultAddr   = "127.0.0.1:3000"
	maxNameLength = 50
)

// StatsSource reports ingestion counters for the health endpoint.
type StatsSource interface {
	Stats() ingest.Stats
}

// Server provides the HTTP read API.
type Server struct {
	addr      string
	reader    model.GraphReader
	stats     StatsSource
	logger    zerolog.Logger
	server    *http.Server
	listener  net.Listener
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a server. stats may be nil.
func NewServer(addr string, reader model.GraphReader, stats StatsSource, logger zerolog.Logger) *Server {
	if addr == "" {
		addr = defaultAddr
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      addr,
		reader:    reader,
		stats:     stats,
		logger:    logger.With().Str("component", "http").Logger(),
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
}

// Handler builds the routing table.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/health", s.handleHealth)
	r.GET("/people", s.handlePeople)
	r.GET("/people/:id", s.handlePerson)
	r.GET("/people/:id/employers", s.handlePersonEmployers)
	r.GET("/companies", s.handleCompanies)
	r.GET("/companies/:id", s.handleCompany)
	r.GET("/companies/:id/employees", s.handleCompanyEmployees)
	return r
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("httpserver: listen %s: %w", s.addr, err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}
	s.startTime = time.Now()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("serve failed")
		}
	}()
	s.logger.Info().Str("addr", listener.Addr().String()).Msg("http api listening")
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop cancels in-flight requests and shuts the server down.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	counts, err := s.reader.Counts(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("health counts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read health metrics"})
		return
	}

	body := gin.H{
		"status": "ok",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
		"counts": counts,
	}
	if s.stats != nil {
		body["ingest"] = s.stats.Stats()
	}
	c.JSON(http.StatusOK, body)
}
