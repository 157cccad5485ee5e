package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"carpihogar-assistant/internal/util"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// Provider delivers a text message to a phone number
type Provider interface {
	SendText(ctx context.Context, phone, text string) error
}

// CloudAPIProvider sends messages through the WhatsApp Cloud API
type CloudAPIProvider struct {
	baseURL       string
	phoneNumberID string
	accessToken   string
	httpClient    *http.Client
}

// NewCloudAPIProvider creates a WhatsApp Cloud API provider
func NewCloudAPIProvider(baseURL, phoneNumberID, accessToken string, timeout time.Duration) *CloudAPIProvider {
	return &CloudAPIProvider{
		baseURL:       baseURL,
		phoneNumberID: phoneNumberID,
		accessToken:   accessToken,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type cloudTextMessage struct {
	MessagingProduct string        `json:"messaging_product"`
	RecipientType    string        `json:"recipient_type"`
	To               string        `json:"to"`
	Type             string        `json:"type"`
	Text             cloudTextBody `json:"text"`
}

type cloudTextBody struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

// SendText posts a text message. A single attempt is made.
func (p *CloudAPIProvider) SendText(ctx context.Context, phone, text string) error {
	body, err := json.Marshal(cloudTextMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               phone,
		Type:             "text",
		Text:             cloudTextBody{Body: text},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", p.baseURL, p.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("whatsapp api returned %d: %s", resp.StatusCode, detail)
	}
	return nil
}

// LogProvider only logs outbound messages. Used when WhatsApp is disabled.
type LogProvider struct {
	logger *zap.Logger
}

// NewLogProvider creates a provider that writes to the log
func NewLogProvider() *LogProvider {
	return &LogProvider{logger: util.GetLogger()}
}

// SendText logs the recipient and message length; the body may hold a code
func (p *LogProvider) SendText(ctx context.Context, phone, text string) error {
	p.logger.Info("WhatsApp disabled, message not sent",
		zap.String("phone", phone),
		zap.Int("length", len(text)))
	return nil
}

// BreakerProvider fails fast while the wrapped provider keeps failing
type BreakerProvider struct {
	next Provider
	cb   *gobreaker.CircuitBreaker[struct{}]
}

// NewBreakerProvider wraps next with a circuit breaker that opens after
// consecutive failures and tries again after cooldown
func NewBreakerProvider(next Provider, consecutiveFailures uint32, cooldown time.Duration) *BreakerProvider {
	logger := util.GetLogger()
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "whatsapp",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &BreakerProvider{next: next, cb: cb}
}

// SendText sends through the breaker
func (p *BreakerProvider) SendText(ctx context.Context, phone, text string) error {
	_, err := p.cb.Execute(func() (struct{}, error) {
		return struct{}{}, p.next.SendText(ctx, phone, text)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("whatsapp unavailable: %w", err)
	}
	return err
}
