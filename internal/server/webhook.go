package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Webhook payloads above this size are rejected before parsing.
const maxWebhookBody = 1 << 20

// ReceiveWebhook accepts a signed billing provider event. The handler only
// verifies and records; it must acknowledge fast, so processing happens in
// the background worker. Redeliveries return 200 like any other event.
func (s *Server) ReceiveWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	provider := c.Param("provider")
	if err := s.billingSvc.IngestWebhook(c.Request.Context(), provider, payload, c.Request.Header); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
