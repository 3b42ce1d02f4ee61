package server

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// ReceiveWebhook hands the raw body to the gateway untouched; signatures are
// computed over the exact bytes the provider sent. Anything rejected before
// dispatch answers 4xx/5xx so the provider redelivers.
func (s *Server) ReceiveWebhook(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		AbortWithError(c, invalidBody(err))
		return
	}

	result, err := s.gateway.HandleWebhook(c.Request.Context(), strings.ToLower(c.Param("provider")), payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, result)
}

func (s *Server) GetWebhookEvent(c *gin.Context) {
	record, err := s.gateway.GetWebhookEvent(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, record)
}
