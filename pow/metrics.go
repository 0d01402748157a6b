package pow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "pow"

var (
	batchesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "batches_sent_total",
		Help:      "Batches delivered to the coordinator, by batch type and channel.",
	}, []string{"type", "channel"})

	deliveryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "delivery_failures_total",
		Help:      "Failed HTTP delivery attempts, by batch type.",
	}, []string{"type"})

	ackTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "ack_timeouts_total",
		Help:      "Websocket deliveries that fell back to HTTP after an ack timeout.",
	})

	pendingBatches = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "pending_batches",
		Help:      "Batches awaiting delivery, by batch type.",
	}, []string{"type"})

	openValidations = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "open_validations",
		Help:      "In-flight validation accumulators.",
	})
)
