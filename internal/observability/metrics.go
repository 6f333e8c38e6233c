package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// --- Operations ---
	OpsApplied  *prometheus.CounterVec
	OpsRejected *prometheus.CounterVec
	OpDuration  *prometheus.HistogramVec

	// --- Pool state ---
	Pools       prometheus.Gauge
	BlockHeight prometheus.Gauge

	// --- Settlement ---
	SettleRequests prometheus.Counter
	SettleErrors   prometheus.Counter
	SettleDuration prometheus.Histogram

	// --- Channels & publish ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	EventDrops         prometheus.Counter
	PublishDrops       prometheus.Counter

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistErrors        *prometheus.CounterVec
	PersistRetry         prometheus.Counter
	PersistBatchDur      prometheus.Histogram

	// --- Block ingestion ---
	BlocksReceived prometheus.Counter
	BlockLag       prometheus.Histogram

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		OpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ampo_ops_applied_total",
			Help: "Operations successfully applied",
		}, []string{"op"}),

		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ampo_ops_rejected_total",
			Help: "Operations rejected (validation, settlement failure)",
		}, []string{"op"}),

		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ampo_op_duration_seconds",
			Help:    "Time to apply a single operation, settlement included",
			Buckets: latencyBuckets,
		}, []string{"op"}),

		Pools: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ampo_pools",
			Help: "Initialized pools",
		}),

		BlockHeight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ampo_block_height",
			Help: "Current block height",
		}),

		SettleRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ampo_settle_requests_total",
			Help: "Settlement requests executed",
		}),

		SettleErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ampo_settle_errors_total",
			Help: "Settlement requests that failed",
		}),

		SettleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ampo_settle_duration_seconds",
			Help:    "Settlement round-trip duration",
			Buckets: latencyBuckets,
		}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ampo_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ampo_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ampo_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		EventDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ampo_event_drops_total",
			Help: "Events dropped due to full event channel",
		}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ampo_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ampo_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ampo_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ampo_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ampo_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		BlocksReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ampo_blocks_received_total",
			Help: "Block headers received from the feed",
		}),

		BlockLag: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ampo_block_lag_seconds",
			Help:    "Feed receive time minus block timestamp",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 15.0},
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ampo_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ampo_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
