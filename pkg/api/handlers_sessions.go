package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/claude-mem/worker/pkg/models"
	"github.com/claude-mem/worker/pkg/response"
)

type sessionInitRequest struct {
	ContentSessionID string `json:"content_session_id" binding:"required"`
	Project          string `json:"project" binding:"required"`
	Prompt           string `json:"prompt"`
}

// handleSessionInit creates (or fetches) a session, records its first
// prompt, and admits it into the agent-loop registry.
func (s *Server) handleSessionInit(c *gin.Context) {
	var req sessionInitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.isExcluded(req.Project) {
		c.JSON(http.StatusForbidden, gin.H{"error": "project is excluded"})
		return
	}

	ctx := c.Request.Context()
	sessionDBID, err := s.Store.CreateSession(ctx, req.ContentSessionID, req.Project, req.Prompt, nil)
	if err != nil {
		respondError(c, err)
		return
	}

	promptNumber, err := s.Store.IncrementPromptCounter(ctx, sessionDBID)
	if err != nil {
		respondError(c, err)
		return
	}
	if req.Prompt != "" {
		promptID, err := s.Store.AppendPrompt(ctx, req.ContentSessionID, promptNumber, req.Prompt)
		if err != nil {
			respondError(c, err)
			return
		}
		if s.Mirror != nil {
			s.Mirror.SyncPrompt(ctx, req.Project, promptID, models.ScopeProject, req.Prompt)
		}
	}

	if _, err := s.Registry.GetOrStart(s.baseCtx, sessionDBID, req.ContentSessionID, req.Project, req.Prompt); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, sessionInitResponse{SessionDBID: sessionDBID})
}

type sessionObservationRequest struct {
	ContentSessionID string `json:"content_session_id" binding:"required"`
	ToolName         string `json:"tool_name" binding:"required"`
	ToolInput        string `json:"tool_input"`
	ToolResponse     string `json:"tool_response"`
	CWD              string `json:"cwd"`
}

// handleSessionObservation pre-filters the tool call with the same
// never-worth-extracting and trivial-output checks the agent loop's
// response processor uses before a provider call, then enqueues it.
func (s *Server) handleSessionObservation(c *gin.Context) {
	var req sessionObservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if response.ShouldSkipTool(req.ToolName) || response.ShouldSkipTrivialOperation(req.ToolName, req.ToolInput, req.ToolResponse) {
		c.JSON(http.StatusOK, enqueueResponse{})
		return
	}

	hash := response.HashRequest(req.ToolName, req.ToolInput, req.ToolResponse)
	if s.dedup.IsDuplicate(hash) {
		c.JSON(http.StatusOK, enqueueResponse{})
		return
	}

	ctx := c.Request.Context()
	sess, err := s.Store.GetSessionByContentID(ctx, req.ContentSessionID)
	if err != nil {
		respondError(c, err)
		return
	}

	msgID, err := s.Store.EnqueueObservation(ctx, sess.ID, req.ContentSessionID, req.ToolName, req.ToolInput, req.ToolResponse, req.CWD, sess.PromptCounter)
	if err != nil {
		respondError(c, err)
		return
	}
	s.dedup.Record(hash)

	c.JSON(http.StatusOK, enqueueResponse{MessageID: msgID})
}

type sessionSummarizeRequest struct {
	ContentSessionID     string `json:"content_session_id" binding:"required"`
	LastAssistantMessage string `json:"last_assistant_message"`
}

func (s *Server) handleSessionSummarize(c *gin.Context) {
	var req sessionSummarizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	sess, err := s.Store.GetSessionByContentID(ctx, req.ContentSessionID)
	if err != nil {
		respondError(c, err)
		return
	}

	msgID, err := s.Store.EnqueueSummarize(ctx, sess.ID, req.ContentSessionID, req.LastAssistantMessage, sess.PromptCounter)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, enqueueResponse{MessageID: msgID})
}

type contentSessionRequest struct {
	ContentSessionID string `json:"content_session_id" binding:"required"`
}

// handleSessionComplete marks a session completed once its queue has
// drained, then cancels its agent loop so the goroutine exits immediately
// instead of riding out the idle timeout.
func (s *Server) handleSessionComplete(c *gin.Context) {
	var req contentSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	sess, err := s.Store.GetSessionByContentID(ctx, req.ContentSessionID)
	if err != nil {
		respondError(c, err)
		return
	}

	pending, err := s.Store.PendingCountForSession(ctx, sess.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	if pending > 0 {
		c.JSON(http.StatusAccepted, gin.H{"drained": false, "pending": pending})
		return
	}

	if err := s.Store.MarkSessionCompleted(ctx, sess.ID); err != nil {
		respondError(c, err)
		return
	}
	if active, ok := s.Registry.Get(sess.ID); ok {
		active.Cancel()
	}

	c.JSON(http.StatusOK, gin.H{"drained": true})
}

// handleSubagentComplete wakes the session's queue iterator so a sub-agent
// or Task-tool completion is picked up on the next loop iteration instead
// of waiting out the remaining poll interval.
func (s *Server) handleSubagentComplete(c *gin.Context) {
	var req contentSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	sess, err := s.Store.GetSessionByContentID(ctx, req.ContentSessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	s.Registry.Nudge(sess.ID)

	c.JSON(http.StatusAccepted, gin.H{"status": "nudged"})
}
