package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(turnsCreatedTotal, turnOutcomesTotal, flowHops) }

var (
	turnsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "turnpipe_turns_created_total",
			Help: "Turns folded by the debounce aggregator.",
		},
	)

	turnOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnpipe_turn_outcomes_total",
			Help: "Final turn statuses, with the blocked reason when blocked.",
		},
		[]string{"status", "reason"},
	)

	flowHops = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "turnpipe_flow_hops",
			Help:    "FSM hops taken per turn.",
			Buckets: []float64{0, 1, 2, 3, 4, 6, 8, 10},
		},
		[]string{"mode"},
	)
)

func IncTurnCreated() { turnsCreatedTotal.Inc() }

func IncTurnOutcome(status, reason string) {
	turnOutcomesTotal.WithLabelValues(norm(status), norm(reason)).Inc()
}

func ObserveFlowHops(mode string, hops int) {
	flowHops.WithLabelValues(norm(mode)).Observe(float64(hops))
}
