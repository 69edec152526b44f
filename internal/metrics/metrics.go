// Package metrics exposes Prometheus collectors for the relay pool, the
// subscription tracker and manager, and the content caches.
//
// Collectors are registered on the default registry at init; serve them with
// promhttp.Handler(). Label sets are fixed and small: relay URLs are never
// used as labels because the relay set is user controlled.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// ConnectionsActive gauges live relay connections held by the pool.
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relaypool_connections_active",
		Help: "Number of live relay connections.",
	})

	// ConnectAttempts counts network connection attempts by result (ok|error).
	ConnectAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relaypool_connect_attempts_total",
		Help: "Relay connection attempts by result.",
	}, []string{"result"})

	// ConnectionEvictions counts connections closed by the pool (lru|idle|closed).
	ConnectionEvictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relaypool_evictions_total",
		Help: "Relay connections closed by the pool, by reason.",
	}, []string{"reason"})

	// EventsDropped counts events dropped because a delivery buffer was full.
	EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relaypool_events_dropped_total",
		Help: "Events dropped due to full delivery buffers.",
	})

	// SubscriptionsActive gauges subscriptions registered with the tracker.
	SubscriptionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relaypool_subscriptions_active",
		Help: "Number of registered subscriptions.",
	})

	// SubscriptionEvictions counts tracker-driven removals by reason
	// (global|consumer|stale|duplicate|component|expired).
	SubscriptionEvictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relaypool_subscription_evictions_total",
		Help: "Subscriptions removed by the tracker or manager, by reason.",
	}, []string{"reason"})

	// CallbackPanics counts consumer callbacks that panicked during delivery.
	CallbackPanics = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relaypool_callback_panics_total",
		Help: "Consumer event callbacks that panicked.",
	})

	// CacheRequests counts content cache lookups by store and result (hit|miss).
	CacheRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relaypool_cache_requests_total",
		Help: "Content cache lookups by store and result.",
	}, []string{"store", "result"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		ConnectAttempts,
		ConnectionEvictions,
		EventsDropped,
		SubscriptionsActive,
		SubscriptionEvictions,
		CallbackPanics,
		CacheRequests,
	)
}

// CacheHit records a hit on the named store.
func CacheHit(store string) {
	CacheRequests.WithLabelValues(store, "hit").Inc()
}

// CacheMiss records a miss on the named store.
func CacheMiss(store string) {
	CacheRequests.WithLabelValues(store, "miss").Inc()
}
