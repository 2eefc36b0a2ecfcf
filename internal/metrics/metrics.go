// Package metrics declares the gateway's Prometheus instruments. They are
// registered on the default registry and served by the HTTP API at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session error kinds used as the "kind" label of SessionErrors.
const (
	KindHandshake = "handshake"
	KindDecode    = "decode"
	KindIO        = "io"
)

// Webhook delivery results used as the "result" label of WebhookEvents.
const (
	ResultSent   = "sent"
	ResultFailed = "failed"
)

var (
	SessionsActive  = promauto.NewGauge(prometheus.GaugeOpts{Name: "wtgate_sessions_active", Help: "WebTransport sessions currently being served"})
	SessionsTotal   = promauto.NewCounter(prometheus.CounterOpts{Name: "wtgate_sessions_total", Help: "WebTransport sessions accepted"})
	SessionErrors   = promauto.NewCounterVec(prometheus.CounterOpts{Name: "wtgate_session_errors_total", Help: "Sessions terminated by an error, by kind"}, []string{"kind"})
	Messages        = promauto.NewCounterVec(prometheus.CounterOpts{Name: "wtgate_messages_total", Help: "Payloads received, by transport"}, []string{"transport"})
	WebhookEvents   = promauto.NewCounterVec(prometheus.CounterOpts{Name: "wtgate_webhook_events_total", Help: "Webhook deliveries by event type and result"}, []string{"type", "result"})
	WebhookDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "wtgate_webhook_duration_seconds", Help: "Webhook POST latency", Buckets: prometheus.ExponentialBuckets(0.005, 2, 12)})
)
