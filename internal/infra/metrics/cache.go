package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(flowCacheLookups) }

// Results: hit, miss (never cached), expired.
var flowCacheLookups = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "turnpipe_flow_cache_lookups_total",
		Help: "Resolved-flow cache lookups per flow status.",
	},
	[]string{"status", "result"},
)

func IncFlowCacheLookup(status, result string) {
	flowCacheLookups.WithLabelValues(norm(status), norm(result)).Inc()
}
