package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/ticketpay/internal/config"
	"github.com/smallbiznis/ticketpay/internal/webhook"
)

// HandleGatewayWebhook authenticates the body before rate limiting so
// unsigned traffic cannot drain the gateway's webhook budget. Every outcome
// other than an error is acknowledged with 200 so the gateway stops retrying.
func (s *Server) HandleGatewayWebhook(c *gin.Context) {
	limit := s.receiver.MaxBodyBytes()
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, limit+1))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if int64(len(payload)) > limit {
		AbortWithError(c, webhook.ErrPayloadTooLarge)
		return
	}

	ctx := c.Request.Context()
	if err := s.receiver.Authenticate(ctx, payload, c.Request.Header); err != nil {
		AbortWithError(c, err)
		return
	}
	if !s.allow(c, config.CategoryWebhook) {
		return
	}

	result, err := s.receiver.Reconcile(ctx, payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"outcome": result.Outcome,
	})
}
