// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gauges
var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parley_active_sessions",
		Help: "Number of conversation sessions currently connecting or live",
	})
	PlaybackQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parley_playback_queued_chunks",
		Help: "Assistant audio chunks waiting to be played",
	})
)

// Counters
var (
	SessionsStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_sessions_started_total",
		Help: "Session start attempts by transport and outcome",
	}, []string{"transport", "outcome"})
	SessionStopsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_session_stops_total",
		Help: "Session stops by reason",
	}, []string{"reason"})
	SessionErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_session_errors_total",
		Help: "Session errors by kind",
	}, []string{"kind"})
	BargeInsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_barge_ins_total",
		Help: "Confirmed user barge-ins while the assistant was speaking",
	})
	GatedChunksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_gated_chunks_total",
		Help: "Microphone chunks dropped by the echo gate",
	})
	ReconnectAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_reconnect_attempts_total",
		Help: "Socket transport reconnect attempts by outcome",
	}, []string{"outcome"})
	MalformedFramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_malformed_frames_total",
		Help: "Inbound frames dropped because they could not be parsed",
	})
	ToolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_tool_calls_total",
		Help: "Tool calls by tier and outcome",
	}, []string{"tier", "outcome"})
	EndFlowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_end_flows_total",
		Help: "End-of-conversation flows by trigger and resolution",
	}, []string{"trigger", "resolution"})
	SummariesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_summaries_total",
		Help: "Post-session summarization outcomes",
	}, []string{"outcome"})
)

// Histograms
var (
	ConnectLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parley_connect_duration_ms",
		Help:    "Time from start request to listening, in milliseconds",
		Buckets: []float64{100, 250, 500, 1000, 2000, 5000, 10000},
	}, []string{"transport"})
	ResponseLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "parley_response_latency_ms",
		Help:    "Time from end of user speech to first assistant audio, in milliseconds",
		Buckets: []float64{100, 250, 500, 750, 1000, 1500, 2500, 5000},
	})
	SessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "parley_session_duration_seconds",
		Help:    "Length of completed sessions",
		Buckets: []float64{15, 30, 60, 120, 300, 600, 1200},
	})
)
