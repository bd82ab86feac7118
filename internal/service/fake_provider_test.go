package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type frame struct {
	kind int
	data []byte
}

// fakeProvider тестовый сервер провайдера на httptest + gorilla
type fakeProvider struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	// reject отвечает этим статусом вместо апгрейда
	reject atomic.Int64
	hits   atomic.Int64

	mu     sync.Mutex
	frames []frame
	// onText вызывается для каждого текстового сообщения
	onText func(conn *websocket.Conn, msg string)
	// afterUpgrade вызывается сразу после подключения
	afterUpgrade func(conn *websocket.Conn, n int64)
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	f := &fakeProvider{}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeProvider) handle(w http.ResponseWriter, r *http.Request) {
	n := f.hits.Inc()
	if status := int(f.reject.Load()); status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if f.afterUpgrade != nil {
		f.afterUpgrade(conn, n)
	}
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.frames = append(f.frames, frame{kind: kind, data: data})
		onText := f.onText
		f.mu.Unlock()
		if kind == websocket.TextMessage && onText != nil {
			onText(conn, string(data))
		}
	}
}

func (f *fakeProvider) received() []frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]frame(nil), f.frames...)
}

func (f *fakeProvider) texts() []string {
	var out []string
	for _, fr := range f.received() {
		if fr.kind == websocket.TextMessage {
			out = append(out, string(fr.data))
		}
	}
	return out
}

func (f *fakeProvider) binaries() [][]byte {
	var out [][]byte
	for _, fr := range f.received() {
		if fr.kind == websocket.BinaryMessage {
			out = append(out, fr.data)
		}
	}
	return out
}

// dialer направляет любой URL провайдера на тестовый сервер
func (f *fakeProvider) dialer() Dialer {
	return &redirectDialer{url: "ws" + strings.TrimPrefix(f.srv.URL, "http")}
}

type redirectDialer struct {
	url string
}

func (d *redirectDialer) DialContext(ctx context.Context, _ string, h http.Header) (*websocket.Conn, *http.Response, error) {
	return websocket.DefaultDialer.DialContext(ctx, d.url, h)
}

// eventLog потокобезопасный сборщик событий
type eventLog struct {
	mu     sync.Mutex
	events []Event
	notify chan Event
}

func newEventLog() *eventLog {
	return &eventLog{notify: make(chan Event, 256)}
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	select {
	case l.notify <- ev:
	default:
	}
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func (l *eventLog) ofType(t EventType) []Event {
	var out []Event
	for _, ev := range l.all() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (l *eventLog) messages() []string {
	var out []string
	for _, ev := range l.all() {
		if ev.Type == EventStatus {
			out = append(out, ev.Status+": "+ev.Message)
		}
	}
	return out
}

// waitFor ждёт событие, удовлетворяющее match
func (l *eventLog) waitFor(t *testing.T, timeout time.Duration, match func(Event) bool) Event {
	t.Helper()
	for _, ev := range l.all() {
		if match(ev) {
			return ev
		}
	}
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-l.notify:
			if match(ev) {
				return ev
			}
		case <-deadline:
			require.FailNow(t, "timed out waiting for event", "events: %v", l.messages())
			return Event{}
		}
	}
}

func isType(t EventType) func(Event) bool {
	return func(ev Event) bool { return ev.Type == t }
}
