package api

import (
	"net/http"

	"carpihogar-assistant/internal/models"
	"carpihogar-assistant/internal/service"

	"github.com/gin-gonic/gin"
)

type statusRequest struct {
	Status       string  `json:"status" binding:"required"`
	Tracking     *string `json:"tracking"`
	Observations *string `json:"observations"`
}

type assignRequest struct {
	DriverID string `json:"driverId" binding:"required"`
}

type paidRequest struct {
	PaymentMethod string `json:"paymentMethod" binding:"required"`
}

// getShipment handles GET /api/shipments/:orderId
func (h *Handler) getShipment(c *gin.Context) {
	actor, _ := actorFrom(c)
	shipping, err := h.shipments.GetShipment(c.Request.Context(), actor, c.Param("orderId"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, shipping)
}

// updateShipmentStatus handles PATCH /api/shipments/:orderId/status
func (h *Handler) updateShipmentStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	actor, _ := actorFrom(c)
	shipping, err := h.shipments.UpdateStatus(c.Request.Context(), actor, c.Param("orderId"), service.ShipmentUpdate{
		Status:       models.ShippingStatus(req.Status),
		Tracking:     req.Tracking,
		Observations: req.Observations,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, shipping)
}

// assignShipment handles POST /api/shipments/:orderId/assign
func (h *Handler) assignShipment(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	actor, _ := actorFrom(c)
	shipping, err := h.shipments.Assign(c.Request.Context(), actor, c.Param("orderId"), req.DriverID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, shipping)
}

// markOrderPaid handles POST /api/orders/:id/paid
func (h *Handler) markOrderPaid(c *gin.Context) {
	var req paidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	actor, _ := actorFrom(c)
	order, err := h.payments.RecordManualPayment(c.Request.Context(), actor, c.Param("id"), req.PaymentMethod)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}
