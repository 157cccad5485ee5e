package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"carpihogar-assistant/internal/messaging"
	"carpihogar-assistant/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	apiKeyHeader    = "X-API-Key"
	signatureHeader = "X-Hub-Signature-256"
	maxWebhookBody  = 1 << 20
)

// verifyWebhook answers the Meta subscription handshake
func (h *Handler) verifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode != "subscribe" || h.opts.WebhookVerifyToken == "" || !secureEqual(token, h.opts.WebhookVerifyToken) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Verification failed"})
		return
	}
	c.String(http.StatusOK, challenge)
}

// receiveWebhook accepts signed Meta deliveries and flat {phone, message}
// posts from callers holding the API key
func (h *Handler) receiveWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if isMetaPayload(body) {
		if !h.validSignature(c.GetHeader(signatureHeader), body) {
			h.logger.Warn("Rejected unsigned webhook delivery", zap.String("client_ip", c.ClientIP()))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
			return
		}
	} else if !h.validAPIKey(c.GetHeader(apiKeyHeader)) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
		return
	}

	messages, err := messaging.ParseWebhook(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid webhook payload",
			"details": err.Error(),
		})
		return
	}

	results := make([]*service.InboundResult, 0, len(messages))
	for _, msg := range messages {
		res, err := h.inbound.HandleInbound(c.Request.Context(), msg)
		if err != nil {
			h.logger.Error("Inbound message failed",
				zap.String("wa_message_id", msg.WAMessageID),
				zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process message"})
			return
		}
		results = append(results, res)
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "results": results})
}

func (h *Handler) validAPIKey(key string) bool {
	return h.opts.WebhookAPIKey != "" && secureEqual(key, h.opts.WebhookAPIKey)
}

// validSignature checks "sha256=<hex hmac of body>" against the app secret
func (h *Handler) validSignature(header string, body []byte) bool {
	if h.opts.WebhookAppSecret == "" || header == "" {
		return false
	}
	return secureEqual(strings.ToLower(header), signBody(h.opts.WebhookAppSecret, body))
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func isMetaPayload(body []byte) bool {
	var envelope struct {
		Object string `json:"object"`
	}
	return json.Unmarshal(body, &envelope) == nil && envelope.Object != ""
}

func secureEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
