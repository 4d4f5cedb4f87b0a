// Package api implements the worker's loopback HTTP surface: session
// lifecycle endpoints editor hooks call, context/search reads, an SSE
// stream of newly stored observations, and health/readiness probes.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/claude-mem/worker/pkg/config"
	claudecontext "github.com/claude-mem/worker/pkg/context"
	"github.com/claude-mem/worker/pkg/mode"
	"github.com/claude-mem/worker/pkg/response"
	"github.com/claude-mem/worker/pkg/session"
	"github.com/claude-mem/worker/pkg/store"
	"github.com/claude-mem/worker/pkg/vector"
)

const dedupTTLSecs = 30
const dedupMaxSize = 4096

// Server wires the relational store, vector mirror, context composer,
// session registry, and broadcaster into one gin router. Every dependency
// is set at construction; there is no optional Set* wiring step, unlike the
// teacher's richer multi-service dashboard surface, because this worker has
// a single fixed set of collaborators determined at startup.
type Server struct {
	Store       *store.Store
	Mirror      *vector.Mirror
	Composer    *claudecontext.Composer
	Registry    *session.Registry
	Mode        *mode.Mode
	Settings    *config.Settings
	Broadcaster *Broadcaster

	excludedProjects map[string]bool
	logDir           string
	dedup            *response.RequestDeduplicator

	// baseCtx roots every admitted agent loop's lifetime. It must NOT be a
	// per-request context: an HTTP handler's context is canceled the moment
	// its response is written, which would kill the agent loop it just
	// admitted before the loop ever got to do anything.
	baseCtx context.Context

	ready atomic.Bool
	http  *http.Server
	eng   *gin.Engine
}

// New builds a Server. baseCtx roots every agent loop's lifetime and should
// live for the whole process (canceled only on shutdown), never a
// per-request context. excludedProjects suppresses those projects from
// /api/sessions/init so an editor hook's own scratch/test projects never
// enter the store. logDir roots /api/logs's tail reads.
func New(baseCtx context.Context, st *store.Store, mirror *vector.Mirror, composer *claudecontext.Composer, registry *session.Registry, m *mode.Mode, settings *config.Settings, logDir string) *Server {
	excluded := make(map[string]bool, len(settings.ExcludedProjects))
	for _, p := range settings.ExcludedProjects {
		excluded[p] = true
	}

	s := &Server{
		Store:            st,
		Mirror:           mirror,
		Composer:         composer,
		Registry:         registry,
		Mode:             m,
		Settings:         settings,
		Broadcaster:      NewBroadcaster(),
		excludedProjects: excluded,
		logDir:           logDir,
		dedup:            response.NewRequestDeduplicator(dedupTTLSecs, dedupMaxSize),
		baseCtx:          baseCtx,
	}

	gin.SetMode(gin.ReleaseMode)
	eng := gin.New()
	eng.Use(gin.Recovery(), securityHeaders())
	s.eng = eng
	s.setupRoutes()
	return s
}

// MarkReady flips the readiness probe once the store and vector mirror have
// finished initializing. The HTTP server itself is already listening by
// then — editor hooks can connect immediately, they just see 503s from
// /api/ready until this fires.
func (s *Server) MarkReady() {
	s.ready.Store(true)
}

func (s *Server) setupRoutes() {
	s.eng.GET("/api/health", s.handleHealth)
	s.eng.GET("/api/ready", s.handleReady)
	s.eng.GET("/api/version", s.handleVersion)
	s.eng.GET("/api/stats", s.handleStats)

	s.eng.POST("/api/sessions/init", s.handleSessionInit)
	s.eng.POST("/api/sessions/observations", s.handleSessionObservation)
	s.eng.POST("/api/sessions/summarize", s.handleSessionSummarize)
	s.eng.POST("/api/sessions/complete", s.handleSessionComplete)
	s.eng.POST("/api/sessions/subagent-complete", s.handleSubagentComplete)

	s.eng.GET("/api/context/inject", s.handleContextInject)
	s.eng.GET("/api/context/recent", s.handleContextRecent)
	s.eng.GET("/api/search/observations", s.handleSearchObservations)
	s.eng.GET("/api/timeline/by-query", s.handleTimelineByQuery)
	s.eng.GET("/api/logs", s.handleLogs)

	s.eng.GET("/stream", s.handleStream)
}

// Start blocks serving addr until Shutdown is called or the listener fails.
// http.ErrServerClosed is swallowed; any other error is returned.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.eng}
	slog.Info("worker http surface listening", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener within ctx's
// deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) isExcluded(project string) bool {
	return s.excludedProjects[project]
}
