package worker

import (
	"context"

	"carpihogar-assistant/internal/broker"
	"carpihogar-assistant/internal/service"
	"carpihogar-assistant/internal/util"

	"go.uber.org/zap"
)

// PaymentWorker consumes payment-events and marks orders paid
type PaymentWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewPaymentWorker creates a new payment worker
func NewPaymentWorker(consumer *broker.Consumer, payments *service.PaymentService) *PaymentWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnPaymentConfirmed(payments.HandlePaymentConfirmed)

	return &PaymentWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start blocks until ctx is cancelled
func (w *PaymentWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting payment worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *PaymentWorker) Stop() error {
	w.logger.Info("Stopping payment worker")
	return w.consumer.Close()
}
