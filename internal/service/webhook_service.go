package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"carpihogar-assistant/internal/messaging"
	"carpihogar-assistant/internal/models"
	"carpihogar-assistant/internal/store"
	"carpihogar-assistant/internal/util"

	"go.uber.org/zap"
)

const (
	replyDedupTTL = 24 * time.Hour
	confirmPhrase = "si autorizo"
)

// Webhook outcomes
const (
	OutcomeInvalid          = "invalid"
	OutcomeUnknownCustomer  = "unknown_customer"
	OutcomeConfirmed        = "confirmed"
	OutcomeRejected         = "rejected"
	OutcomeAlreadyConfirmed = "already_confirmed"
	OutcomeNothingPending   = "nothing_pending"
	OutcomePhraseDisabled   = "phrase_disabled"
	OutcomePaymentHelp      = "payment_help"
	OutcomeReminder         = "reminder"
	OutcomeIgnored          = "ignored"
)

// InboundResult describes what an inbound message caused
type InboundResult struct {
	Outcome string `json:"outcome"`
	OrderID string `json:"orderId,omitempty"`
	Replied bool   `json:"replied"`
}

// WebhookService handles customer messages received over WhatsApp
type WebhookService struct {
	customers   CustomerDirectory
	orders      *OrderService
	tokens      *TokenService
	messenger   Messenger
	idempotency IdempotencyStore
	allowPhrase bool
	logger      *zap.Logger
}

// NewWebhookService creates a new webhook service. allowPhrase enables the
// "sí autorizo" confirmation that needs no code.
func NewWebhookService(
	customers CustomerDirectory,
	orders *OrderService,
	tokens *TokenService,
	messenger Messenger,
	idempotency IdempotencyStore,
	allowPhrase bool,
) *WebhookService {
	return &WebhookService{
		customers:   customers,
		orders:      orders,
		tokens:      tokens,
		messenger:   messenger,
		idempotency: idempotency,
		allowPhrase: allowPhrase,
		logger:      util.GetLogger(),
	}
}

// HandleInbound maps an inbound message to a pending confirmation. Replayed
// deliveries run verification again (and fail on the used token); only the
// duplicate reply is suppressed.
func (s *WebhookService) HandleInbound(ctx context.Context, msg messaging.InboundMessage) (*InboundResult, error) {
	ctx, span := util.StartSpan(ctx, "WebhookService.HandleInbound")
	defer span.End()

	variants := messaging.PhoneVariants(msg.Phone)
	if len(variants) == 0 {
		util.WebhookMessagesTotal.WithLabelValues(OutcomeInvalid).Inc()
		return &InboundResult{Outcome: OutcomeInvalid}, nil
	}

	customer, err := s.customers.FindCustomerByPhone(ctx, variants)
	if errors.Is(err, store.ErrNotFound) {
		util.WebhookMessagesTotal.WithLabelValues(OutcomeUnknownCustomer).Inc()
		s.logger.Info("Inbound message from unknown phone", zap.String("phone", variants[0]))
		return &InboundResult{Outcome: OutcomeUnknownCustomer}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up customer: %w", err)
	}

	pending, err := s.orders.LatestPendingOrder(ctx, customer.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending order: %w", err)
	}

	result, reply, err := s.decide(ctx, customer, pending, msg.Message)
	if err != nil {
		return nil, err
	}
	util.WebhookMessagesTotal.WithLabelValues(result.Outcome).Inc()

	if reply != "" && s.claimReply(ctx, msg.WAMessageID) {
		res := s.messenger.SendWhatsAppMessage(ctx, messaging.OutboundMessage{Phone: variants[0], Text: reply})
		result.Replied = res.OK
	}

	s.logger.Info("Inbound WhatsApp message handled",
		zap.String("customer_id", customer.ID),
		zap.String("wa_message_id", msg.WAMessageID),
		zap.String("outcome", result.Outcome),
		zap.Bool("replied", result.Replied))
	return result, nil
}

func (s *WebhookService) decide(ctx context.Context, customer *models.Customer, pending *models.Order, text string) (*InboundResult, string, error) {
	if code, ok := ExtractToken(text); ok {
		verified, err := s.tokens.Verify(ctx, customer.ID, code)
		if err != nil {
			return nil, "", err
		}
		return s.confirmation(verified)
	}

	if containsWord(util.FoldText(text), confirmPhrase) {
		if !s.allowPhrase {
			return &InboundResult{Outcome: OutcomePhraseDisabled},
				"Para confirmar tu compra escribe el código de 6 dígitos que te enviamos.", nil
		}
		verified, err := s.tokens.ConsumeLatest(ctx, customer.ID)
		if err != nil {
			return nil, "", err
		}
		if verified.OK {
			return s.confirmation(verified)
		}
		if pending != nil {
			return &InboundResult{Outcome: OutcomeAlreadyConfirmed, OrderID: pending.ID},
				fmt.Sprintf("Tu pedido #%s ya está confirmado y pendiente de pago.", pending.Reference()), nil
		}
		return &InboundResult{Outcome: OutcomeNothingPending},
			"No encontramos una compra pendiente por confirmar.", nil
	}

	if method, texts := PaymentHelp(text); method != PaymentUnknown {
		return &InboundResult{Outcome: OutcomePaymentHelp}, texts[0] + " " + texts[1], nil
	}

	if pending != nil {
		return &InboundResult{Outcome: OutcomeReminder, OrderID: pending.ID},
			fmt.Sprintf("Tu pedido #%s por US$ %s está pendiente de pago. Escribe \"zelle\", \"pago móvil\" o \"transferencia\" para ver cómo pagar.",
				pending.Reference(), pending.TotalUSD.StringFixed(2)), nil
	}
	return &InboundResult{Outcome: OutcomeIgnored}, "", nil
}

func (s *WebhookService) confirmation(verified *VerifyResult) (*InboundResult, string, error) {
	if !verified.OK {
		return &InboundResult{Outcome: OutcomeRejected}, msgInvalidToken, nil
	}
	order := verified.Order
	return &InboundResult{Outcome: OutcomeConfirmed, OrderID: order.ID},
		fmt.Sprintf("¡Gracias! Tu pedido #%s fue confirmado por US$ %s (Bs. %s). Ingresa a tu cuenta para registrar el pago.",
			order.Reference(), order.TotalUSD.StringFixed(2), order.TotalVES.StringFixed(2)), nil
}

// claimReply reports whether this delivery may reply. Messages without an id always may.
func (s *WebhookService) claimReply(ctx context.Context, waMessageID string) bool {
	if waMessageID == "" || s.idempotency == nil {
		return true
	}
	claimed, err := s.idempotency.ClaimIdempotencyKey(ctx, "wa-reply:"+waMessageID, replyDedupTTL)
	if err != nil {
		s.logger.Warn("Idempotency check failed, replying anyway",
			zap.String("wa_message_id", waMessageID),
			zap.Error(err))
		return true
	}
	if !claimed {
		s.logger.Info("Duplicate delivery, reply suppressed", zap.String("wa_message_id", waMessageID))
	}
	return claimed
}
