package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"tutorledger/internal/repository"
	"tutorledger/internal/service"

	"github.com/gin-gonic/gin"
)

// HandlePaymentWebhook receives payment provider notifications.
// POST /api/v1/webhooks/payment
//
// The signature is verified over the raw body before the payload is even
// parsed. Replayed deliveries return 200 with idempotent=true so the
// provider stops retrying.
func (h *Handler) HandlePaymentWebhook(c *gin.Context) {
	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		webhookDeliveries.WithLabelValues(outcomeError).Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	signature := c.GetHeader(h.cfg.Webhook.SignatureHeader)
	if !h.webhookService.VerifySignature(rawBody, signature) {
		webhookDeliveries.WithLabelValues(outcomeRejected).Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var payload service.WebhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil || payload.PaymentID == "" || payload.Status == "" {
		webhookDeliveries.WithLabelValues(outcomeRejected).Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	result, err := h.webhookService.Reconcile(c.Request.Context(), &payload)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			webhookDeliveries.WithLabelValues(outcomeRejected).Inc()
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown payment"})
			return
		}
		webhookDeliveries.WithLabelValues(outcomeError).Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconciliation failed"})
		return
	}

	if result.Idempotent {
		webhookDeliveries.WithLabelValues(outcomeIdempotent).Inc()
	} else {
		webhookDeliveries.WithLabelValues(outcomeApplied).Inc()
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":         true,
		"idempotent": result.Idempotent,
	})
}
