package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-product-relay/internal/reconcile"
	"github.com/imrishuroy/go-product-relay/internal/relay"
	"github.com/imrishuroy/go-product-relay/internal/syncstore"
	"github.com/imrishuroy/go-product-relay/internal/validation"
)

// HeaderAdminToken authenticates admin requests when a token is configured.
const HeaderAdminToken = "X-Admin-Token"

// StatusSource exposes the pipeline state and sync records.
type StatusSource interface {
	Status() relay.Status
	Record(ctx context.Context, productID string) (*syncstore.Record, error)
}

// ReconcileRunner runs one reconcile pass.
type ReconcileRunner interface {
	Run(ctx context.Context, mode reconcile.Mode) (reconcile.Report, error)
}

// AdminConfig groups dependencies for the status and admin routes.
type AdminConfig struct {
	Relay      StatusSource
	Reconciler ReconcileRunner // optional
	Validator  *validatorv10.Validate
	Token      string
	Logger     *zap.Logger
}

// RegisterHealth registers GET /health.
func RegisterHealth(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// RegisterAdminRoutes registers status, sync record lookup and reconcile.
func RegisterAdminRoutes(r *gin.Engine, cfg AdminConfig) {
	if cfg.Validator == nil {
		cfg.Validator = validation.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	logger := cfg.Logger.Named("handlers")

	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, cfg.Relay.Status())
	})

	r.GET("/sync/:id", func(c *gin.Context) {
		rec, err := cfg.Relay.Record(c.Request.Context(), c.Param("id"))
		if err != nil {
			logger.Error("sync record lookup failed", zap.String("product_id", c.Param("id")), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
			return
		}
		if rec == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		c.JSON(http.StatusOK, rec)
	})

	admin := r.Group("/admin", requireToken(cfg.Token))
	admin.POST("/reconcile", func(c *gin.Context) {
		if cfg.Reconciler == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reconcile_disabled"})
			return
		}

		var req validation.ReconcileRequest
		if err := validation.BindAndValidate(c, &req, cfg.Validator); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		// the pass outlives a disconnected client
		ctx := context.WithoutCancel(c.Request.Context())
		rep, err := cfg.Reconciler.Run(ctx, reconcile.Mode(req.Mode))
		switch {
		case errors.Is(err, reconcile.ErrAlreadyRunning):
			c.JSON(http.StatusConflict, gin.H{"error": "reconcile_running"})
		case err != nil:
			logger.Error("reconcile failed", zap.String("mode", req.Mode), zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "reconcile_failed", "report": rep})
		default:
			c.JSON(http.StatusOK, rep)
		}
	})
}

func requireToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got := c.GetHeader(HeaderAdminToken)
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
