package usage

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_SessionTotals(t *testing.T) {
	r := NewRecorder(nil)
	s := r.StartSession("openai")
	require.NotEmpty(t, s.ID)

	s.AddSent(4800, 100)
	s.AddSent(960, 20)
	s.AddSuppressed(300)
	s.AddSuppressed(0)
	s.AddCommit()
	s.AddFinal()

	want := Totals{BytesSent: 5760, MsSent: 120, MsSuppressed: 300, Commits: 1, Finals: 1}
	assert.Equal(t, want, s.Totals())

	snap := r.Snapshot()
	assert.Equal(t, want, snap.Total)
	assert.Equal(t, want, snap.Providers["openai"])
	require.Len(t, snap.Sessions, 1)
	assert.Nil(t, snap.Sessions[0].EndedAt)
}

func TestRecorder_AggregatesAcrossSessions(t *testing.T) {
	r := NewRecorder(nil)
	a := r.StartSession("openai")
	b := r.StartSession("deepgram")
	c := r.StartSession("openai")

	a.AddCommit()
	b.AddCommit()
	c.AddCommit()
	c.AddReconnect()

	snap := r.Snapshot()
	assert.EqualValues(t, 3, snap.Total.Commits)
	assert.EqualValues(t, 2, snap.Providers["openai"].Commits)
	assert.EqualValues(t, 1, snap.Providers["deepgram"].Commits)
	assert.EqualValues(t, 1, snap.Providers["openai"].Reconnects)
	assert.NotEqual(t, a.ID, c.ID)
}

func TestSession_End(t *testing.T) {
	r := NewRecorder(nil)
	s := r.StartSession("elevenlabs")
	s.AddFinal()
	s.End()
	s.End()

	snap := r.Snapshot()
	require.Len(t, snap.Sessions, 1)
	require.NotNil(t, snap.Sessions[0].EndedAt)
	assert.EqualValues(t, 1, snap.Sessions[0].Finals)

	// счётчики после завершения продолжают суммироваться в общих итогах
	s.AddFinal()
	assert.EqualValues(t, 2, r.Snapshot().Total.Finals)
}

func TestRecorder_RecentIsBounded(t *testing.T) {
	r := NewRecorder(nil)
	var last string
	for i := 0; i < maxRecent+5; i++ {
		s := r.StartSession("openai")
		s.End()
		last = s.ID
	}
	snap := r.Snapshot()
	assert.Len(t, snap.Sessions, maxRecent)
	assert.Equal(t, last, snap.Sessions[0].ID, "newest first")
}

func TestRecorder_Concurrent(t *testing.T) {
	r := NewRecorder(nil)
	s := r.StartSession("openai")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				s.AddSent(2, 1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 8000, s.Totals().MsSent)
	assert.EqualValues(t, 16000, r.Snapshot().Total.BytesSent)
}

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	r := NewRecorder(m)
	s := r.StartSession("deepgram")

	s.AddSent(3200, 100)
	s.AddSuppressed(40)
	s.AddCommit()
	s.AddCommit()
	s.ObserveCommitLatency(300 * time.Millisecond)

	families := gather(t, reg)
	counter := func(name string) float64 {
		f, ok := families[name]
		require.True(t, ok, name)
		require.Len(t, f.GetMetric(), 1)
		assert.Equal(t, "deepgram", f.GetMetric()[0].GetLabel()[0].GetValue())
		return f.GetMetric()[0].GetCounter().GetValue()
	}
	assert.Equal(t, 3200.0, counter("voxstream_audio_bytes_sent_total"))
	assert.Equal(t, 100.0, counter("voxstream_audio_ms_sent_total"))
	assert.Equal(t, 40.0, counter("voxstream_audio_ms_suppressed_total"))
	assert.Equal(t, 2.0, counter("voxstream_commits_total"))

	latency, ok := families["voxstream_commit_latency_seconds"]
	require.True(t, ok)
	assert.EqualValues(t, 1, latency.GetMetric()[0].GetHistogram().GetSampleCount())

	_, ok = families["voxstream_finals_total"]
	assert.False(t, ok, "vectors without observations are not exported")
}
