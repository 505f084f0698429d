package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(storeConns, storeMaxConns, storeWaitedAcquires) }

var (
	storeConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "turnpipe_store_conns",
			Help: "Postgres pool connections by state.",
		},
		[]string{"state"}, // idle, acquired
	)

	storeMaxConns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "turnpipe_store_max_conns",
			Help: "Configured ceiling of the Postgres pool.",
		},
	)

	storeWaitedAcquires = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "turnpipe_store_waited_acquires",
			Help: "Acquires that found the pool empty since start. Growth means pollers queue on connections.",
		},
	)
)

// PoolSnapshot is the subset of pool statistics the store publishes.
type PoolSnapshot struct {
	Idle, Acquired, Max int32
	EmptyAcquires       int64
}

func SetStorePool(s PoolSnapshot) {
	storeConns.WithLabelValues("idle").Set(float64(s.Idle))
	storeConns.WithLabelValues("acquired").Set(float64(s.Acquired))
	storeMaxConns.Set(float64(s.Max))
	storeWaitedAcquires.Set(float64(s.EmptyAcquires))
}
