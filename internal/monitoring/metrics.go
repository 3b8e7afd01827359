package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type metricSet struct {
	cacheLookups         *prometheus.CounterVec
	cacheEvictions       *prometheus.CounterVec
	repositoryOps        *prometheus.CounterVec
	queueDepth           prometheus.Gauge
	queueDeliveries      *prometheus.CounterVec
	queueDeliveryLatency *prometheus.HistogramVec
	queueRetryDelay      prometheus.Histogram
	queueDrops           *prometheus.CounterVec
	networkOnline        prometheus.Gauge
	networkTransitions   *prometheus.CounterVec
	apiLatency           *prometheus.HistogramVec
	realtimeConnections  prometheus.Gauge
	realtimeBroadcasts   *prometheus.CounterVec
	realtimeFailures     *prometheus.CounterVec
	maintenanceRuns      *prometheus.CounterVec
	maintenanceDuration  *prometheus.HistogramVec
	maintenanceLastRun   *prometheus.GaugeVec
}

func newMetricSet(namespace string) *metricSet {
	buckets := prometheus.DefBuckets
	// Retry delays are bounded by the queue's backoff cap.
	retryBuckets := []float64{1, 2, 4, 8, 16, 30, 60}

	return &metricSet{
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Cache lookups by result (hit or miss)",
			},
			[]string{"result"},
		),
		cacheEvictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "evictions_total",
				Help:      "Cache entries removed by reason",
			},
			[]string{"reason"},
		),
		repositoryOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "repository",
				Name:      "operations_total",
				Help:      "Repository operations by collection and result",
			},
			[]string{"collection", "operation", "result"},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "depth",
				Help:      "Number of pending mutations in the offline queue",
			},
		),
		queueDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "deliveries_total",
				Help:      "Delivery attempts by item type and result",
			},
			[]string{"type", "result"},
		),
		queueDeliveryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "delivery_latency_seconds",
				Help:      "Duration of a single delivery attempt",
				Buckets:   buckets,
			},
			[]string{"type"},
		),
		queueRetryDelay: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "retry_delay_seconds",
				Help:      "Backoff delays scheduled for failed deliveries",
				Buckets:   retryBuckets,
			},
		),
		queueDrops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "dropped_total",
				Help:      "Items removed without delivery, by reason",
			},
			[]string{"type", "reason"},
		),
		networkOnline: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "network",
				Name:      "online",
				Help:      "1 when the connectivity monitor reports online",
			},
		),
		networkTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "network",
				Name:      "transitions_total",
				Help:      "Connectivity status changes by resulting state",
			},
			[]string{"state"},
		),
		apiLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_latency_seconds",
				Help:      "API endpoint latency",
				Buckets:   buckets,
			},
			[]string{"method", "path", "status"},
		),
		realtimeConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "realtime_connections",
				Help:      "Active realtime websocket connections",
			},
		),
		realtimeBroadcasts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "realtime_broadcasts_total",
				Help:      "Messages broadcast across realtime streams",
			},
			[]string{"stream"},
		),
		realtimeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "realtime_failures_total",
				Help:      "Realtime broadcast failures",
			},
			[]string{"stream", "type"},
		),
		maintenanceRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "maintenance_runs_total",
				Help:      "Maintenance job executions",
			},
			[]string{"job", "result"},
		),
		maintenanceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "maintenance_duration_seconds",
				Help:      "Maintenance job duration",
				Buckets:   buckets,
			},
			[]string{"job"},
		),
		maintenanceLastRun: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "maintenance_last_success_timestamp",
				Help:      "Timestamp of the last successful maintenance run (seconds since epoch)",
			},
			[]string{"job"},
		),
	}
}

func (c *metricSet) all() []prometheus.Collector {
	return []prometheus.Collector{
		c.cacheLookups,
		c.cacheEvictions,
		c.repositoryOps,
		c.queueDepth,
		c.queueDeliveries,
		c.queueDeliveryLatency,
		c.queueRetryDelay,
		c.queueDrops,
		c.networkOnline,
		c.networkTransitions,
		c.apiLatency,
		c.realtimeConnections,
		c.realtimeBroadcasts,
		c.realtimeFailures,
		c.maintenanceRuns,
		c.maintenanceDuration,
		c.maintenanceLastRun,
	}
}

func observeDuration(observer prometheus.Observer, d time.Duration) {
	if observer == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	observer.Observe(d.Seconds())
}
