package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"carpihogar-assistant/internal/messaging"
	"carpihogar-assistant/internal/models"
	"carpihogar-assistant/internal/store"
	"carpihogar-assistant/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const tokenDigits = 6

var (
	ErrMissingPhone = errors.New("customer has no phone number")

	tokenPattern = regexp.MustCompile(`^\d{6}$`)
)

// OrderPromoter turns a temporary order into a real order
type OrderPromoter interface {
	PromoteTemporaryOrder(ctx context.Context, temp *models.TemporaryOrder) (*models.Order, error)
}

// IssuedToken is what callers learn about a new token. The code itself only
// leaves the process through WhatsApp.
type IssuedToken struct {
	ID          string    `json:"id"`
	OrderTempID string    `json:"orderTempId"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Preview     string    `json:"preview"`
	Delivered   bool      `json:"delivered"`
}

// VerifyResult is the outcome of a confirmation attempt. Failures carry no reason.
type VerifyResult struct {
	OK    bool
	Order *models.Order
}

// TokenService issues and verifies purchase tokens
type TokenService struct {
	tokens    TokenRepository
	temps     TempOrderRepository
	customers CustomerDirectory
	promoter  OrderPromoter
	messenger Messenger
	attempts  AttemptLimiter
	// maxAttempts is how many codes a customer may try per token lifetime
	maxAttempts int
	ttl         time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

// NewTokenService creates a new token service
func NewTokenService(
	tokens TokenRepository,
	temps TempOrderRepository,
	customers CustomerDirectory,
	promoter OrderPromoter,
	messenger Messenger,
	attempts AttemptLimiter,
	maxAttempts int,
	ttl time.Duration,
) *TokenService {
	return &TokenService{
		tokens:      tokens,
		temps:       temps,
		customers:   customers,
		promoter:    promoter,
		messenger:   messenger,
		attempts:    attempts,
		maxAttempts: maxAttempts,
		ttl:         ttl,
		now:         time.Now,
		logger:      util.GetLogger(),
	}
}

// Issue creates a token for the temp order and sends it to the customer's phone
func (s *TokenService) Issue(ctx context.Context, customerID, orderTempID string) (*IssuedToken, error) {
	ctx, span := util.StartSpan(ctx, "TokenService.Issue")
	defer span.End()

	customer, err := s.customers.GetCustomerByID(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load customer: %w", err)
	}
	if messaging.NormalizePhone(customer.Phone) == "" {
		return nil, ErrMissingPhone
	}

	code, err := generateCode()
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	token := &models.PurchaseToken{
		ID:          uuid.New().String(),
		CustomerID:  customerID,
		OrderTempID: orderTempID,
		Token:       code,
		ExpiresAt:   s.now().Add(s.ttl),
	}
	if err := s.tokens.CreatePurchaseToken(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}
	util.TokensIssuedTotal.Inc()

	// a fresh code gets a fresh attempt budget
	if err := s.attempts.ResetAttempts(ctx, attemptKey(customerID)); err != nil {
		s.logger.Warn("Failed to reset token attempts", zap.String("customer_id", customerID), zap.Error(err))
	}

	text := fmt.Sprintf(
		"Carpihogar: tu código para confirmar la compra es %s. Vence en %d minutos. No lo compartas con nadie.",
		code, int(s.ttl.Minutes()))
	res := s.messenger.SendWhatsAppMessage(ctx, messaging.OutboundMessage{Phone: customer.Phone, Text: text})

	s.logger.Info("Purchase token issued",
		zap.String("token_id", token.ID),
		zap.String("order_temp_id", orderTempID),
		zap.Bool("delivered", res.OK))

	return &IssuedToken{
		ID:          token.ID,
		OrderTempID: orderTempID,
		ExpiresAt:   token.ExpiresAt,
		Preview:     MaskToken(code),
		Delivered:   res.OK,
	}, nil
}

// Verify consumes the matching token and promotes its temp order. A consumed
// token stays used even when the promotion fails.
func (s *TokenService) Verify(ctx context.Context, customerID, code string) (*VerifyResult, error) {
	ctx, span := util.StartSpan(ctx, "TokenService.Verify")
	defer span.End()

	code = strings.TrimSpace(code)
	if customerID == "" || !tokenPattern.MatchString(code) {
		util.TokenVerificationsTotal.WithLabelValues("rejected").Inc()
		return &VerifyResult{}, nil
	}

	allowed, err := s.allowAttempt(ctx, customerID)
	if err != nil {
		util.TokenVerificationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if !allowed {
		util.TokenVerificationsTotal.WithLabelValues("locked").Inc()
		return &VerifyResult{}, nil
	}

	token, err := s.tokens.ConsumePurchaseToken(ctx, customerID, code, s.now())
	res, err := s.promote(ctx, token, err)
	if err == nil && res.OK {
		if err := s.attempts.ResetAttempts(ctx, attemptKey(customerID)); err != nil {
			s.logger.Warn("Failed to reset token attempts", zap.String("customer_id", customerID), zap.Error(err))
		}
	}
	return res, err
}

// allowAttempt counts a code attempt for the customer. Once the limit is
// passed every active token of the customer is expired, so guessing has to
// start over with a new code the attacker never saw.
func (s *TokenService) allowAttempt(ctx context.Context, customerID string) (bool, error) {
	n, err := s.attempts.CountAttempt(ctx, attemptKey(customerID), s.ttl)
	if err != nil {
		return false, fmt.Errorf("failed to count token attempt: %w", err)
	}
	if n <= int64(s.maxAttempts) {
		return true, nil
	}

	expired, err := s.tokens.ExpirePurchaseTokens(ctx, customerID)
	if err != nil {
		return false, fmt.Errorf("failed to expire tokens: %w", err)
	}
	s.logger.Warn("Too many token attempts, active tokens expired",
		zap.String("customer_id", customerID),
		zap.Int64("attempts", n),
		zap.Int64("expired", expired))
	return false, nil
}

func attemptKey(customerID string) string {
	return "purchase-token:" + customerID
}

// ConsumeLatest confirms with the customer's newest usable token without a code
func (s *TokenService) ConsumeLatest(ctx context.Context, customerID string) (*VerifyResult, error) {
	ctx, span := util.StartSpan(ctx, "TokenService.ConsumeLatest")
	defer span.End()

	token, err := s.tokens.ConsumeLatestPurchaseToken(ctx, customerID, s.now())
	return s.promote(ctx, token, err)
}

func (s *TokenService) promote(ctx context.Context, token *models.PurchaseToken, consumeErr error) (*VerifyResult, error) {
	if errors.Is(consumeErr, store.ErrNotFound) {
		util.TokenVerificationsTotal.WithLabelValues("rejected").Inc()
		return &VerifyResult{}, nil
	}
	if consumeErr != nil {
		util.TokenVerificationsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to consume token: %w", consumeErr)
	}

	temp, err := s.temps.GetTemporaryOrder(ctx, token.OrderTempID)
	if err != nil {
		util.TokenVerificationsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to load temporary order %s: %w", token.OrderTempID, err)
	}

	order, err := s.promoter.PromoteTemporaryOrder(ctx, temp)
	if errors.Is(err, ErrAlreadyPromoted) {
		util.TokenVerificationsTotal.WithLabelValues("rejected").Inc()
		return &VerifyResult{}, nil
	}
	if err != nil {
		util.TokenVerificationsTotal.WithLabelValues("error").Inc()
		s.logger.Error("Token consumed but order promotion failed",
			zap.String("token_id", token.ID),
			zap.String("order_temp_id", token.OrderTempID),
			zap.Error(err))
		return nil, err
	}

	util.TokenVerificationsTotal.WithLabelValues("confirmed").Inc()
	return &VerifyResult{OK: true, Order: order}, nil
}

// TTL is how long an issued token stays valid
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// MaskToken hides every digit but the last
func MaskToken(code string) string {
	if len(code) <= 1 {
		return strings.Repeat("*", len(code))
	}
	return strings.Repeat("*", len(code)-1) + code[len(code)-1:]
}

// ExtractToken reads a confirmation code from a message that is only the code,
// or that names it explicitly ("mi código es 482913"). Other numbers such as
// quantities or phones are not codes.
func ExtractToken(text string) (string, bool) {
	folded := util.FoldText(text)
	if m := tokenOnlyPattern.FindStringSubmatch(folded); m != nil {
		return m[1], true
	}
	if m := tokenMarkerPattern.FindStringSubmatch(folded); m != nil {
		return m[1], true
	}
	return "", false
}

var (
	tokenOnlyPattern   = regexp.MustCompile(`^(\d{6})[.!]?$`)
	tokenMarkerPattern = regexp.MustCompile(`\b(?:codigo|token|clave|pin)\b\D{0,12}\b(\d{6})(?:\D|$)`)
)

func generateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < tokenDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", tokenDigits, n.Int64()), nil
}
