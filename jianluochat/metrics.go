package jianluochat

import "github.com/prometheus/client_golang/prometheus"

var (
	wsConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jianluochat_ws_connected",
			Help: "Whether the realtime socket is currently open (1) or not (0).",
		},
	)
	wsReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jianluochat_ws_reconnects_total",
			Help: "Total number of scheduled reconnect attempts.",
		},
	)
	wsFramesReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jianluochat_ws_frames_received_total",
			Help: "Total number of frames received from the server.",
		},
		[]string{"type"},
	)
	wsFramesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jianluochat_ws_frames_sent_total",
			Help: "Total number of frames written to the socket.",
		},
		[]string{"type"},
	)
	wsFramesDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jianluochat_ws_frames_dropped_total",
			Help: "Total number of outbound frames dropped because the socket was not open.",
		},
	)
)

// RegisterMetrics registers the transport collectors with r. Call it at most
// once per registerer; libraries embedding the SDK decide whether to expose
// the metrics at all.
func RegisterMetrics(r prometheus.Registerer) {
	r.MustRegister(
		wsConnected,
		wsReconnectsTotal,
		wsFramesReceivedTotal,
		wsFramesSentTotal,
		wsFramesDroppedTotal,
	)
}
