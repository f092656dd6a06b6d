package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var RegistrationsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "rbeam",
		Subsystem: "auth",
		Name:      "registrations_total",
		Help:      "Total number of profiles created.",
	},
)

var LoginsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "rbeam",
		Subsystem: "auth",
		Name:      "logins_total",
		Help:      "Total number of login attempts by outcome.",
	},
	[]string{"outcome"},
)

var NotificationsCreatedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "rbeam",
		Subsystem: "notify",
		Name:      "created_total",
		Help:      "Total number of notifications created.",
	},
)

var MailSentTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "rbeam",
		Subsystem: "mail",
		Name:      "sent_total",
		Help:      "Total number of mail rows created.",
	},
)

var MailRemoteDeliveriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "rbeam",
		Subsystem: "mail",
		Name:      "remote_deliveries_total",
		Help:      "Total number of remote mail deliveries by outcome.",
	},
	[]string{"outcome"},
)

var TransactionsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "rbeam",
		Subsystem: "market",
		Name:      "transactions_total",
		Help:      "Total number of coin transactions committed.",
	},
)

var ProfilesDeletedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "rbeam",
		Subsystem: "auth",
		Name:      "profiles_deleted_total",
		Help:      "Total number of profiles removed by cascade.",
	},
)

var CacheHitsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "rbeam",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total number of cache hits.",
	},
)

var CacheMissesTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "rbeam",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total number of cache misses.",
	},
)

var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "rbeam",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	},
	[]string{"method", "status"},
)

// All returns every rbeam collector for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		RegistrationsTotal,
		LoginsTotal,
		NotificationsCreatedTotal,
		MailSentTotal,
		MailRemoteDeliveriesTotal,
		TransactionsTotal,
		ProfilesDeletedTotal,
		CacheHitsTotal,
		CacheMissesTotal,
		HTTPRequestDuration,
	}
}

// NewMetricsRegistry creates a registry with the Go and process
// collectors plus the given application collectors.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(extra...)
	return reg
}
