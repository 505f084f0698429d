package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(channelSendsTotal, inboundMessagesTotal) }

var (
	channelSendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnpipe_channel_sends_total",
			Help: "Outbound replies per channel and result.",
		},
		[]string{"channel", "result"}, // 'sent', 'error', 'suppressed'
	)

	inboundMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnpipe_inbound_messages_total",
			Help: "Messages accepted by ingest per channel and source.",
		},
		[]string{"channel", "source"},
	)
)

func IncChannelSend(channel, result string) {
	channelSendsTotal.WithLabelValues(norm(channel), norm(result)).Inc()
}

func IncInbound(channel, source string) {
	inboundMessagesTotal.WithLabelValues(norm(channel), norm(source)).Inc()
}
