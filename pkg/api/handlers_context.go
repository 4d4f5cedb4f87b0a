package api

import (
	"bytes"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	claudecontext "github.com/claude-mem/worker/pkg/context"
	"github.com/claude-mem/worker/pkg/vector"
)

func splitProjects(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// handleContextInject composes and returns the recent-context Markdown
// document for the requested projects.
func (s *Server) handleContextInject(c *gin.Context) {
	projects := splitProjects(c.Query("projects"))
	if len(projects) == 0 {
		if p := c.Query("project"); p != "" {
			projects = []string{p}
		}
	}

	opts := claudecontext.Options{
		Projects:             projects,
		TotalObservations:    s.Settings.ContextTotalObservations,
		SessionCount:         s.Settings.ContextSessionCount,
		FullObservationCount: s.Settings.ContextFullObservationCount,
		ShowLegend:           s.Settings.ContextShowLegend,
		ShowEconomics:        s.Settings.ContextShowEconomics,
		ShowPrevious:         s.Settings.ContextShowPrevious,
		Colors:               c.Query("colors") == "true",
		TranscriptPath:       c.Query("transcript_path"),
	}

	doc, err := s.Composer.Compose(c.Request.Context(), opts)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(doc))
}

// handleContextRecent returns recent observations for one project as
// structured JSON, for callers that want to render their own view rather
// than consume the composed Markdown document.
func (s *Server) handleContextRecent(c *gin.Context) {
	project := c.Query("project")
	if project == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "project is required"})
		return
	}
	limit := queryInt(c, "limit", 20)

	obs, err := s.Store.ListObservationsForProject(c.Request.Context(), project, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"observations": obs})
}

// handleSearchObservations runs a vector nearest-neighbor search over one
// project's mirrored observations/summaries.
func (s *Server) handleSearchObservations(c *gin.Context) {
	query := c.Query("query")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}
	project := c.DefaultQuery("project", "default")
	limit := queryInt(c, "limit", 10)

	results, err := s.Mirror.Search(c.Request.Context(), project, query, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// handleTimelineByQuery anchors on the best vector match for query, then
// widens the window by depth_before/depth_after using id order as the
// chronological proxy (ids are assigned in insertion order).
func (s *Server) handleTimelineByQuery(c *gin.Context) {
	query := c.Query("query")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}
	project := c.DefaultQuery("project", "default")
	before := queryInt(c, "depth_before", 5)
	after := queryInt(c, "depth_after", 5)

	ctx := c.Request.Context()
	hits, err := s.Mirror.Search(ctx, project, query, 1)
	if err != nil {
		respondError(c, err)
		return
	}
	if len(hits) == 0 {
		c.JSON(http.StatusOK, gin.H{"observations": []any{}, "summaries": []any{}})
		return
	}
	anchor := hits[0]

	if anchor.DocType == vector.DocSummary {
		sums, err := s.Store.SummariesAroundID(ctx, project, anchor.SqliteID, before, after)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"summaries": sums})
		return
	}

	obs, err := s.Store.ObservationsAroundID(ctx, project, anchor.SqliteID, before, after)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"observations": obs})
}

// handleLogs tails the last N lines of a log file, refusing any path that
// escapes the configured log directory.
func (s *Server) handleLogs(c *gin.Context) {
	file := c.Query("file")
	if file == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	tail := queryInt(c, "tail", 100)

	resolved := filepath.Join(s.logDir, file)
	if !strings.HasPrefix(resolved, filepath.Clean(s.logDir)+string(filepath.Separator)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "file path escapes log directory"})
		return
	}

	lines, err := tailFile(resolved, tail)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "log file not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"lines": lines})
}

// tailReadBlockSize is the chunk size tailFile reads backward from the end
// of the file; only a few blocks are ever touched for a typical tail
// request, regardless of total file size.
const tailReadBlockSize = 64 * 1024

// tailFile returns the last n lines of the file at path by seeking from the
// end and reading backward in fixed-size blocks, stopping as soon as n
// lines have been found. It never reads the whole file into memory unless
// n is large enough to require nearly all of it.
func tailFile(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}

	var collected []byte
	newlines := 0
	pos := size
	buf := make([]byte, tailReadBlockSize)
	for pos > 0 && newlines <= n {
		readSize := int64(tailReadBlockSize)
		if pos < readSize {
			readSize = pos
		}
		pos -= readSize
		if _, err := f.ReadAt(buf[:readSize], pos); err != nil && err != io.EOF {
			return nil, err
		}
		chunk := make([]byte, readSize+int64(len(collected)))
		copy(chunk, buf[:readSize])
		copy(chunk[readSize:], collected)
		newlines += bytes.Count(buf[:readSize], []byte("\n"))
		collected = chunk
	}

	text := strings.TrimRight(string(collected), "\n")
	if text == "" {
		return []string{}, nil
	}
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
