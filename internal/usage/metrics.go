package usage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics prometheus метрики потоковой сессии, все с меткой provider
type Metrics struct {
	BytesSent     *prometheus.CounterVec
	MsSent        *prometheus.CounterVec
	MsSuppressed  *prometheus.CounterVec
	Commits       *prometheus.CounterVec
	Finals        *prometheus.CounterVec
	Reconnects    *prometheus.CounterVec
	CommitLatency *prometheus.HistogramVec
}

// NewMetrics создаёт и регистрирует метрики в reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	labels := []string{"provider"}
	return &Metrics{
		BytesSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voxstream_audio_bytes_sent_total",
			Help: "PCM bytes sent to the transcription provider",
		}, labels),
		MsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voxstream_audio_ms_sent_total",
			Help: "Milliseconds of audio sent to the transcription provider",
		}, labels),
		MsSuppressed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voxstream_audio_ms_suppressed_total",
			Help: "Milliseconds of audio withheld by local VAD",
		}, labels),
		Commits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voxstream_commits_total",
			Help: "Utterance commits sent to the provider",
		}, labels),
		Finals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voxstream_finals_total",
			Help: "Final transcripts received",
		}, labels),
		Reconnects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voxstream_reconnects_total",
			Help: "Provider reconnect attempts",
		}, labels),
		CommitLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voxstream_commit_latency_seconds",
			Help:    "Time from commit to the first final transcript",
			Buckets: []float64{0.1, 0.25, 0.5, 0.75, 1, 1.5, 2, 3, 5},
		}, labels),
	}
}
