package api

import (
	"net/http"

	"carpihogar-assistant/internal/models"
	"carpihogar-assistant/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	sessionCookie = "assistant_session"
	sessionMaxAge = 30 * 24 * 60 * 60
)

type messageRequest struct {
	Message string `json:"message" binding:"required"`
}

type stepRequest struct {
	Step  string            `json:"step" binding:"required"`
	Input service.StepInput `json:"input"`
}

// conversation resolves who is talking and issues the session cookie when absent
func (h *Handler) conversation(c *gin.Context) service.ConversationContext {
	sessionID, err := c.Cookie(sessionCookie)
	if err != nil || sessionID == "" {
		sessionID = uuid.NewString()
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(sessionCookie, sessionID, sessionMaxAge, "/", "", h.opts.CookieSecure, true)
	}

	cc := service.ConversationContext{SessionID: sessionID}
	if actor, ok := actorFrom(c); ok && actor.Role == models.RoleCustomer {
		cc.CustomerID = actor.ID
	}
	return cc
}

// postMessage handles a free text assistant turn
func (h *Handler) postMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	cc := h.conversation(c)
	result := h.assistant.RunPurchaseConversation(c.Request.Context(), service.ConversationTurn{
		CustomerID: cc.CustomerID,
		SessionID:  cc.SessionID,
		Message:    req.Message,
	})
	c.JSON(http.StatusOK, result)
}

// postStep handles an explicit purchase step
func (h *Handler) postStep(c *gin.Context) {
	var req stepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	step, err := service.ParseStep(req.Step)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := h.assistant.RunPurchaseFlowStep(c.Request.Context(), step, h.conversation(c), req.Input)
	c.JSON(http.StatusOK, result)
}
