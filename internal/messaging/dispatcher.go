package messaging

import (
	"context"
	"time"

	"carpihogar-assistant/internal/util"

	"go.uber.org/zap"
)

// OutboundMessage is a text to deliver over WhatsApp
type OutboundMessage struct {
	Phone string
	Text  string
}

// SendResult reports whether the provider accepted the message
type SendResult struct {
	OK bool `json:"ok"`
}

// InboundMessage is a customer message received through the webhook
type InboundMessage struct {
	Phone       string `json:"phone"`
	Message     string `json:"message"`
	WAMessageID string `json:"waMessageId,omitempty"`
}

// Dispatcher sends WhatsApp messages. Failures are reported, never raised.
type Dispatcher struct {
	provider Provider
	logger   *zap.Logger
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(provider Provider) *Dispatcher {
	return &Dispatcher{
		provider: provider,
		logger:   util.GetLogger(),
	}
}

// SendWhatsAppMessage makes a single delivery attempt
func (d *Dispatcher) SendWhatsAppMessage(ctx context.Context, msg OutboundMessage) SendResult {
	ctx, span := util.StartSpan(ctx, "Dispatcher.SendWhatsAppMessage")
	defer span.End()

	phone := NormalizePhone(msg.Phone)
	if phone == "" || msg.Text == "" {
		util.WhatsAppMessagesTotal.WithLabelValues("invalid").Inc()
		d.logger.Warn("Refusing to send WhatsApp message without phone or text")
		return SendResult{OK: false}
	}

	start := time.Now()
	err := d.provider.SendText(ctx, phone, msg.Text)
	util.WhatsAppSendLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		util.WhatsAppMessagesTotal.WithLabelValues("failed").Inc()
		d.logger.Warn("WhatsApp send failed",
			zap.String("phone", phone),
			zap.Error(err))
		return SendResult{OK: false}
	}

	util.WhatsAppMessagesTotal.WithLabelValues("sent").Inc()
	return SendResult{OK: true}
}
