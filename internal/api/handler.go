package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"carpihogar-assistant/internal/messaging"
	"carpihogar-assistant/internal/models"
	"carpihogar-assistant/internal/service"
	"carpihogar-assistant/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Assistant runs purchase conversation turns
type Assistant interface {
	RunPurchaseConversation(ctx context.Context, turn service.ConversationTurn) service.FlowResult
	RunPurchaseFlowStep(ctx context.Context, step service.Step, cc service.ConversationContext, in service.StepInput) service.FlowResult
}

// InboundHandler processes inbound WhatsApp messages
type InboundHandler interface {
	HandleInbound(ctx context.Context, msg messaging.InboundMessage) (*service.InboundResult, error)
}

// Shipments updates shipment records
type Shipments interface {
	GetShipment(ctx context.Context, actor models.Actor, orderID string) (*models.Shipping, error)
	UpdateStatus(ctx context.Context, actor models.Actor, orderID string, update service.ShipmentUpdate) (*models.Shipping, error)
	Assign(ctx context.Context, actor models.Actor, orderID, driverID string) (*models.Shipping, error)
}

// Payments records manual payments
type Payments interface {
	RecordManualPayment(ctx context.Context, actor models.Actor, orderID, method string) (*models.Order, error)
}

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options carries the settings the HTTP layer needs
type Options struct {
	CookieSecure       bool
	JWTSecret          string
	WebhookAPIKey      string
	WebhookVerifyToken string
	// WebhookAppSecret signs Meta deliveries (X-Hub-Signature-256)
	WebhookAppSecret string
}

// Handler contains HTTP handlers
type Handler struct {
	assistant Assistant
	inbound   InboundHandler
	shipments Shipments
	payments  Payments
	deps      map[string]Pinger
	opts      Options
	logger    *zap.Logger
}

// NewHandler creates a new HTTP handler. deps are checked by /ready.
func NewHandler(
	assistant Assistant,
	inbound InboundHandler,
	shipments Shipments,
	payments Payments,
	deps map[string]Pinger,
	opts Options,
) *Handler {
	return &Handler{
		assistant: assistant,
		inbound:   inbound,
		shipments: shipments,
		payments:  payments,
		deps:      deps,
		opts:      opts,
		logger:    util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := router.Group("/api")
	{
		assistant := apiGroup.Group("/assistant", h.optionalActor())
		assistant.POST("/message", h.postMessage)
		assistant.POST("/step", h.postStep)

		apiGroup.GET("/webhooks/whatsapp", h.verifyWebhook)
		apiGroup.POST("/webhooks/whatsapp", h.receiveWebhook)

		staff := apiGroup.Group("", h.requireActor())
		staff.GET("/shipments/:orderId", h.getShipment)
		staff.PATCH("/shipments/:orderId/status", h.updateShipmentStatus)
		staff.POST("/shipments/:orderId/assign", h.assignShipment)
		staff.POST("/orders/:id/paid", h.markOrderPaid)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failing := gin.H{}
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			failing[name] = err.Error()
		}
	}
	if len(failing) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not_ready",
			"failing": failing,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// writeServiceError maps service sentinels to HTTP responses
func (h *Handler) writeServiceError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrShippingNotFound), errors.Is(err, service.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrIllegalTransition):
		status = http.StatusConflict
	case errors.Is(err, service.ErrInvalidStatus), errors.Is(err, service.ErrUnknownPaymentMethod):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(status, gin.H{"error": "Internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
