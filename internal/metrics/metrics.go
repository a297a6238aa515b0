package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Shim metrics
	ActiveShims = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rakshim_shims_active",
		Help: "Number of active relay listeners",
	})

	RelaysSpawned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rakshim_relays_spawned_total",
		Help: "Total number of relay listeners spawned for redirected backends",
	})

	// Bridge metrics
	ActiveBridges = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rakshim_bridges_active",
		Help: "Number of active client bridges",
	})

	TotalBridges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rakshim_bridges_total",
		Help: "Total number of client bridges created",
	})

	BridgesClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rakshim_bridges_closed_total",
		Help: "Total number of bridges torn down",
	}, []string{"reason"})

	// Accept-path rejections
	ConnectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rakshim_connection_rejected_total",
		Help: "Total number of client connections rejected",
	}, []string{"reason"})

	// Traffic metrics
	MessagesForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rakshim_messages_forwarded_total",
		Help: "Total number of messages forwarded",
	}, []string{"direction"})

	BytesForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rakshim_bytes_forwarded_total",
		Help: "Total payload bytes forwarded",
	}, []string{"direction"})

	// Interception metrics
	RedirectsIntercepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rakshim_redirects_intercepted_total",
		Help: "Total number of intercepted address-carrying packets",
	}, []string{"kind"})

	// Announcement metrics
	AnnounceErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rakshim_announce_errors_total",
		Help: "Total number of failed relay announcements",
	})
)

// IncBridgeClosed increments the bridge teardown counter for a reason.
func IncBridgeClosed(reason string) {
	BridgesClosed.WithLabelValues(reason).Inc()
}
