// Package metrics регистрирует метрики Prometheus сервиса заказов.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "orderflow"

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	ordersCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Total number of orders created by checkout",
		},
	)

	orderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Total number of applied order status transitions",
		},
		[]string{"from", "to"},
	)

	couponRedemptions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coupon_redemptions_total",
			Help:      "Total number of coupons redeemed at checkout",
		},
	)

	sideEffectFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "side_effect_failures_total",
			Help:      "Total number of failed best-effort side effects",
		},
		[]string{"effect"},
	)

	webhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Total number of payment webhook events by outcome",
		},
		[]string{"provider", "outcome"},
	)

	pixCharges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pix_charges_total",
			Help:      "Total number of PIX charge attempts by outcome",
		},
		[]string{"provider", "outcome"},
	)
)

// ObserveHTTPRequest учитывает обработанный HTTP-запрос.
func ObserveHTTPRequest(method, path, status string, d time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path, status).Observe(d.Seconds())
}

// OrderCreated учитывает созданный заказ.
func OrderCreated() { ordersCreated.Inc() }

// OrderTransition учитывает применённый переход статуса.
func OrderTransition(from, to string) { orderTransitions.WithLabelValues(from, to).Inc() }

// CouponRedeemed учитывает применённый купон.
func CouponRedeemed() { couponRedemptions.Inc() }

// SideEffectFailed учитывает сбой побочного эффекта (notification, loyalty).
func SideEffectFailed(effect string) { sideEffectFailures.WithLabelValues(effect).Inc() }

// WebhookEvent учитывает обработанный вебхук.
func WebhookEvent(provider, outcome string) { webhookEvents.WithLabelValues(provider, outcome).Inc() }

// PixCharge учитывает попытку создания PIX-платежа.
func PixCharge(provider, outcome string) { pixCharges.WithLabelValues(provider, outcome).Inc() }
