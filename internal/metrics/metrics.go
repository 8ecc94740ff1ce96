package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quicflood_build_info",
			Help: "Build information of quicflood",
		},
		[]string{"version", "commit", "date"},
	)

	PacketsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quicflood_packets_sent_total",
		Help: "Total number of datagrams handed to the socket without error",
	}, []string{"mode", "packet_type"})

	BytesSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quicflood_bytes_sent_total",
		Help: "Total number of payload bytes handed to the socket without error",
	}, []string{"mode", "packet_type"})

	SendErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quicflood_send_errors_total",
		Help: "Total number of send attempts that returned an error",
	}, []string{"mode"})

	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quicflood_runs_total",
		Help: "Total number of completed runs",
	}, []string{"mode"})

	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quicflood_run_duration_seconds",
		Help:    "Wall-clock duration of completed runs",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 9), // 10ms .. ~11m
	}, []string{"mode"})

	SinkPacketsReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quicflood_sink_packets_received_total",
		Help: "Total number of datagrams received by the sink, by classified packet type",
	}, []string{"packet_type"})

	SinkBytesReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quicflood_sink_bytes_received_total",
		Help: "Total number of bytes received by the sink",
	})
)
