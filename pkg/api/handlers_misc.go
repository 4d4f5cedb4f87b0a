package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/claude-mem/worker/pkg/version"
)

// handleHealth is a plain liveness probe: if the process can answer HTTP at
// all, it reports healthy. Use /api/ready to gate on dependency init.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{Status: "healthy"})
}

// handleReady returns 200 only once MarkReady has fired.
func (s *Server) handleReady(c *gin.Context) {
	ready := s.ready.Load()
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, readyResponse{Ready: ready})
}

func (s *Server) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, versionResponse{Version: version.Full(), GitCommit: version.GitCommit})
}

func (s *Server) handleStats(c *gin.Context) {
	project := c.Query("project")
	if project == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "project is required"})
		return
	}

	ctx := c.Request.Context()
	obsCount, err := s.Store.CountObservationsForProject(ctx, project)
	if err != nil {
		respondError(c, err)
		return
	}
	health, err := s.Store.Health(ctx)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, statsResponse{
		Project:          project,
		ObservationCount: obsCount,
		PendingCount:     health.PendingCount,
		ProcessingCount:  health.ProcessingCount,
		FailedCount:      health.FailedCount,
		SchemaVersion:    health.SchemaVersion,
	})
}
