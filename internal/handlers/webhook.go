// Package handlers registers the gin routes of the relay: storefront
// webhook intake, health, status and the admin reconcile trigger.
package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-product-relay/internal/idempotency"
	"github.com/imrishuroy/go-product-relay/internal/product"
	"github.com/imrishuroy/go-product-relay/internal/relayerr"
	"github.com/imrishuroy/go-product-relay/internal/shopify"
)

// maxWebhookBody bounds the raw body read before HMAC verification.
const maxWebhookBody = 5 << 20

// WebhookConfig groups dependencies for the webhook routes.
type WebhookConfig struct {
	Secret string            // shared webhook secret; empty disables verification
	Dedupe idempotency.Store // optional
	Sink   Sink
	Logger *zap.Logger
	Now    func() time.Time
}

type webhookHandler struct {
	cfg    WebhookConfig
	logger *zap.Logger
}

// RegisterWebhookRoutes registers the product webhook routes. The topic is
// taken from the path, or from the topic header on the generic route.
func RegisterWebhookRoutes(r *gin.Engine, cfg WebhookConfig) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	h := &webhookHandler{cfg: cfg, logger: cfg.Logger.Named("handlers")}
	if cfg.Secret == "" {
		h.logger.Warn("webhook secret not configured, signatures are not verified")
	}

	r.POST("/webhook/products/:topic", func(c *gin.Context) {
		h.handle(c, c.Param("topic"))
	})
	r.POST("/webhook", func(c *gin.Context) {
		h.handle(c, c.GetHeader(shopify.HeaderTopic))
	})
}

func (h *webhookHandler) handle(c *gin.Context, rawTopic string) {
	ctx := c.Request.Context()

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body_too_large"})
		return
	}

	if h.cfg.Secret != "" && !shopify.VerifyHMAC(h.cfg.Secret, body, c.GetHeader(shopify.HeaderHMAC)) {
		h.logger.Warn("rejecting webhook with bad signature", zap.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_signature"})
		return
	}

	topic, ok := product.ParseTopic(rawTopic)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_topic", "topic": rawTopic})
		return
	}

	deliveryID := c.GetHeader(shopify.HeaderWebhookID)
	if deliveryID == "" {
		deliveryID = uuid.NewString()
	}
	log := h.logger.With(zap.String("delivery_id", deliveryID), zap.String("topic", string(topic)))

	if h.cfg.Dedupe != nil {
		claimed, err := h.cfg.Dedupe.Claim(ctx, deliveryID, string(topic))
		if err != nil {
			// fail open; a duplicate only costs an extra debounce cycle
			log.Warn("dedupe claim failed", zap.Error(err))
		} else if !claimed {
			log.Debug("duplicate delivery")
			c.JSON(http.StatusOK, gin.H{"status": "duplicate", "delivery_id": deliveryID})
			return
		}
	}

	env := Envelope{
		DeliveryID: deliveryID,
		Topic:      topic,
		ReceivedAt: h.cfg.Now().UTC(),
		Payload:    body,
	}
	err = h.cfg.Sink.Accept(ctx, env)
	switch {
	case err == nil:
		h.markDone(c, log, deliveryID)
		c.JSON(http.StatusOK, gin.H{"status": "accepted", "delivery_id": deliveryID})
	case errors.Is(err, relayerr.ErrValidation):
		// a redelivery would be just as malformed
		h.markDone(c, log, deliveryID)
		log.Warn("ignoring malformed delivery", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "delivery_id": deliveryID})
	default:
		h.release(c, log, deliveryID)
		log.Error("delivery not accepted", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue_failed", "delivery_id": deliveryID})
	}
}

func (h *webhookHandler) markDone(c *gin.Context, log *zap.Logger, deliveryID string) {
	if h.cfg.Dedupe == nil {
		return
	}
	if err := h.cfg.Dedupe.MarkDone(c.Request.Context(), deliveryID); err != nil {
		log.Warn("dedupe mark done failed", zap.Error(err))
	}
}

func (h *webhookHandler) release(c *gin.Context, log *zap.Logger, deliveryID string) {
	if h.cfg.Dedupe == nil {
		return
	}
	if err := h.cfg.Dedupe.Release(c.Request.Context(), deliveryID); err != nil {
		log.Warn("dedupe release failed", zap.Error(err))
	}
}
