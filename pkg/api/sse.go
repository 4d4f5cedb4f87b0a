package api

import (
	"io"

	"github.com/gin-gonic/gin"
)

// handleStream streams new_observation events to one client for the
// lifetime of its connection, draining Subscribe's channel until the
// request context is canceled.
func (s *Server) handleStream(c *gin.Context) {
	ch, unsubscribe := s.Broadcaster.Subscribe()
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-clientGone:
			return false
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("message", ev)
			return true
		}
	})
}
