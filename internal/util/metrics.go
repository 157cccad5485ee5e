package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FlowStepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_flow_steps_total",
		Help: "Purchase flow steps executed, by step and outcome",
	}, []string{"step", "outcome"})

	FlowFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "assistant_flow_fallbacks_total",
		Help: "Turns answered with the generic fallback message",
	})

	IntentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_intents_total",
		Help: "Free text turns by classified intent",
	}, []string{"intent"})

	TempOrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "temp_orders_created_total",
		Help: "Total number of temporary orders created",
	})

	TokensIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "purchase_tokens_issued_total",
		Help: "Total number of purchase tokens issued",
	})

	TokenVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "purchase_token_verifications_total",
		Help: "Token verification attempts by result",
	}, []string{"result"})

	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders promoted from temp orders",
	})

	OrdersPaidTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_paid_total",
		Help: "Total number of orders marked paid",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Order promotions that failed after the token was consumed",
	}, []string{"reason"})

	ShipmentTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shipment_transitions_total",
		Help: "Shipment status transitions by target status and result",
	}, []string{"to", "result"})

	WhatsAppMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whatsapp_messages_total",
		Help: "Outbound WhatsApp messages by result",
	}, []string{"result"})

	WhatsAppSendLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "whatsapp_send_latency_seconds",
		Help:    "Latency of outbound WhatsApp sends",
		Buckets: prometheus.DefBuckets,
	})

	WebhookMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whatsapp_webhook_messages_total",
		Help: "Inbound WhatsApp messages by outcome",
	}, []string{"outcome"})

	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventbus_published_total",
		Help: "Events published on the in-process bus",
	}, []string{"event"})

	EventHandlerFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventbus_handler_failures_total",
		Help: "Event handler errors and panics",
	}, []string{"event"})

	SweepDeletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retention_sweep_deleted_total",
		Help: "Rows removed by the retention sweep",
	}, []string{"table"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
