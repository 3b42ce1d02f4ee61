package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/railzwaylabs/paygate/internal/payment/domain"
)

const defaultActor = "api"

func pathID(c *gin.Context) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id == 0 {
		return 0, domain.NewValidationError("id", "must be a numeric id")
	}
	return id, nil
}

func (s *Server) CreateCustomer(c *gin.Context) {
	var req domain.CreateCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidBody(err))
		return
	}

	customer, err := s.gateway.CreateCustomer(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondCreated(c, customer)
}

// DeleteCustomer attributes the deletion to the X-Actor header when present.
func (s *Server) DeleteCustomer(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	actor := strings.TrimSpace(c.GetHeader("X-Actor"))
	if actor == "" {
		actor = defaultActor
	}

	if err := s.gateway.DeleteCustomer(c.Request.Context(), id, actor); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) CreateCheckoutSession(c *gin.Context) {
	var req domain.CreateCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidBody(err))
		return
	}
	req.IdempotencyKey = idempotencyKey(c, req.IdempotencyKey)

	session, err := s.gateway.CreateCheckoutSession(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondCreated(c, session)
}

func (s *Server) CancelPaymentIntent(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	intent, err := s.gateway.CancelPaymentIntent(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, intent)
}

func (s *Server) CreateSubscription(c *gin.Context) {
	var req domain.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidBody(err))
		return
	}
	req.IdempotencyKey = idempotencyKey(c, req.IdempotencyKey)

	sub, err := s.gateway.CreateSubscription(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondCreated(c, sub)
}

func (s *Server) UpdateSubscription(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req domain.UpdateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidBody(err))
		return
	}

	sub, err := s.gateway.UpdateSubscription(c.Request.Context(), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, sub)
}

// CancelSubscription accepts an empty body, which means a graceful cancel.
func (s *Server) CancelSubscription(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req domain.CancelSubscriptionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidBody(err))
			return
		}
	}

	sub, err := s.gateway.CancelSubscription(c.Request.Context(), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, sub)
}

func (s *Server) CreateRefund(c *gin.Context) {
	var req domain.CreateRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidBody(err))
		return
	}
	req.IdempotencyKey = idempotencyKey(c, req.IdempotencyKey)

	refund, err := s.gateway.CreateRefund(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondCreated(c, refund)
}

func (s *Server) IngestUsage(c *gin.Context) {
	var event domain.UsageEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		AbortWithError(c, invalidBody(err))
		return
	}
	event.IdempotencyKey = idempotencyKey(c, event.IdempotencyKey)

	if err := s.gateway.IngestUsageEvent(c.Request.Context(), event); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"data": gin.H{"idempotency_key": event.IdempotencyKey}})
}

func (s *Server) ListProviders(c *gin.Context) {
	respondData(c, s.gateway.ProviderHealth())
}
