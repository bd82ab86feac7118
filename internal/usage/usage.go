// Package usage ведёт учёт отправленного и подавленного аудио.
package usage

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// maxRecent сколько завершённых сессий хранится в снимке
const maxRecent = 20

// Totals итоговые значения счётчиков
type Totals struct {
	BytesSent    uint64 `json:"bytes_sent"`
	MsSent       uint64 `json:"ms_sent"`
	MsSuppressed uint64 `json:"ms_suppressed"`
	Commits      uint64 `json:"commits"`
	Finals       uint64 `json:"finals"`
	Reconnects   uint64 `json:"reconnects"`
}

type counters struct {
	bytesSent    atomic.Uint64
	msSent       atomic.Uint64
	msSuppressed atomic.Uint64
	commits      atomic.Uint64
	finals       atomic.Uint64
	reconnects   atomic.Uint64
}

func (c *counters) totals() Totals {
	return Totals{
		BytesSent:    c.bytesSent.Load(),
		MsSent:       c.msSent.Load(),
		MsSuppressed: c.msSuppressed.Load(),
		Commits:      c.commits.Load(),
		Finals:       c.finals.Load(),
		Reconnects:   c.reconnects.Load(),
	}
}

// SessionSummary запись о сессии в снимке
type SessionSummary struct {
	ID        string     `json:"id"`
	Provider  string     `json:"provider"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Totals
}

// Snapshot состояние учёта на момент запроса
type Snapshot struct {
	Total     Totals            `json:"total"`
	Providers map[string]Totals `json:"providers"`
	Sessions  []SessionSummary  `json:"sessions"`
}

// Recorder общий учёт за время жизни процесса
type Recorder struct {
	metrics *Metrics

	mu        sync.Mutex
	total     counters
	providers map[string]*counters
	active    map[string]*Session
	recent    []SessionSummary
}

// NewRecorder создаёт учёт; metrics может быть nil
func NewRecorder(metrics *Metrics) *Recorder {
	return &Recorder{
		metrics:   metrics,
		providers: make(map[string]*counters),
		active:    make(map[string]*Session),
	}
}

// StartSession открывает учёт новой сессии
func (r *Recorder) StartSession(provider string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	pc, ok := r.providers[provider]
	if !ok {
		pc = &counters{}
		r.providers[provider] = pc
	}
	s := &Session{
		ID:        uuid.New().String(),
		Provider:  provider,
		StartedAt: time.Now(),
		recorder:  r,
		provider:  pc,
	}
	r.active[s.ID] = s
	return s
}

// Snapshot копия всех счётчиков
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		Total:     r.total.totals(),
		Providers: make(map[string]Totals, len(r.providers)),
	}
	for id, c := range r.providers {
		snap.Providers[id] = c.totals()
	}
	for _, s := range r.active {
		snap.Sessions = append(snap.Sessions, s.summary())
	}
	snap.Sessions = append(snap.Sessions, r.recent...)
	return snap
}

func (r *Recorder) finish(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[s.ID]; !ok {
		return
	}
	delete(r.active, s.ID)
	r.recent = append([]SessionSummary{s.summary()}, r.recent...)
	if len(r.recent) > maxRecent {
		r.recent = r.recent[:maxRecent]
	}
}

// Session учёт одной сессии. Методы безопасны для вызова из разных горутин.
type Session struct {
	ID        string
	Provider  string
	StartedAt time.Time

	recorder *Recorder
	provider *counters
	own      counters
	endOnce  sync.Once
	endedAt  atomic.Time
}

func (s *Session) each(fn func(c *counters)) {
	fn(&s.own)
	fn(s.provider)
	fn(&s.recorder.total)
}

// AddSent учитывает отправленный блок
func (s *Session) AddSent(bytes, ms uint64) {
	s.each(func(c *counters) {
		c.bytesSent.Add(bytes)
		c.msSent.Add(ms)
	})
	if m := s.recorder.metrics; m != nil {
		m.BytesSent.WithLabelValues(s.Provider).Add(float64(bytes))
		m.MsSent.WithLabelValues(s.Provider).Add(float64(ms))
	}
}

// AddSuppressed учитывает аудио, не отправленное из-за VAD
func (s *Session) AddSuppressed(ms uint64) {
	if ms == 0 {
		return
	}
	s.each(func(c *counters) { c.msSuppressed.Add(ms) })
	if m := s.recorder.metrics; m != nil {
		m.MsSuppressed.WithLabelValues(s.Provider).Add(float64(ms))
	}
}

func (s *Session) AddCommit() {
	s.each(func(c *counters) { c.commits.Inc() })
	if m := s.recorder.metrics; m != nil {
		m.Commits.WithLabelValues(s.Provider).Inc()
	}
}

func (s *Session) AddFinal() {
	s.each(func(c *counters) { c.finals.Inc() })
	if m := s.recorder.metrics; m != nil {
		m.Finals.WithLabelValues(s.Provider).Inc()
	}
}

func (s *Session) AddReconnect() {
	s.each(func(c *counters) { c.reconnects.Inc() })
	if m := s.recorder.metrics; m != nil {
		m.Reconnects.WithLabelValues(s.Provider).Inc()
	}
}

// ObserveCommitLatency время от коммита до первого окончательного текста
func (s *Session) ObserveCommitLatency(d time.Duration) {
	if m := s.recorder.metrics; m != nil {
		m.CommitLatency.WithLabelValues(s.Provider).Observe(d.Seconds())
	}
}

// Totals счётчики этой сессии
func (s *Session) Totals() Totals { return s.own.totals() }

// End закрывает учёт сессии; повторный вызов ничего не делает
func (s *Session) End() {
	s.endOnce.Do(func() {
		s.endedAt.Store(time.Now())
		s.recorder.finish(s)
	})
}

func (s *Session) summary() SessionSummary {
	sum := SessionSummary{
		ID:        s.ID,
		Provider:  s.Provider,
		StartedAt: s.StartedAt,
		Totals:    s.own.totals(),
	}
	if t := s.endedAt.Load(); !t.IsZero() {
		sum.EndedAt = &t
	}
	return sum
}
