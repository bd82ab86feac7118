package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"voxstream/audio"
	"voxstream/provider"
	"voxstream/session"
)

const (
	// ControlQueueSize очередь управляющих сообщений от приёма к отправке
	ControlQueueSize = 32
	// FlushQueueSize очередь запросов локального Flush
	FlushQueueSize = 8

	minFlushTimeout      = 100 * time.Millisecond
	defaultCloseGrace    = 2 * time.Second
	defaultDialTimeout   = 10 * time.Second
	inactivityCheckEvery = time.Second
	logEveryFrames       = 200
)

// Dialer открывает WebSocket; *websocket.Dialer подходит как есть
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Usage учёт сессии; *usage.Session реализует его
type Usage interface {
	AddSent(bytes, ms uint64)
	AddCommit()
	AddFinal()
	AddReconnect()
	ObserveCommitLatency(d time.Duration)
}

type nopUsage struct{}

func (nopUsage) AddSent(uint64, uint64)             {}
func (nopUsage) AddCommit()                         {}
func (nopUsage) AddFinal()                          {}
func (nopUsage) AddReconnect()                      {}
func (nopUsage) ObserveCommitLatency(time.Duration) {}

// RunnerConfig параметры SessionRunner
type RunnerConfig struct {
	Adapter  provider.Adapter
	Settings provider.Settings
	// InactivityTimeout закрывает сессию без речи; 0 отключает проверку
	InactivityTimeout time.Duration
	Backoff           Backoff
	Dialer            Dialer
	Usage             Usage
	// CloseGrace ожидание последних ответов после сообщения закрытия
	CloseGrace time.Duration
	SessionID  string
	OnEvent    func(Event)
}

// SessionRunner ведёт одну сессию распознавания: подключение, отправку
// аудио и коммитов, разбор ответов и переподключение
type SessionRunner struct {
	cfg     RunnerConfig
	adapter provider.Adapter
	dialer  Dialer
	usage   Usage
	log     *logrus.Entry

	inactivityCheck time.Duration
}

func NewSessionRunner(cfg RunnerConfig) *SessionRunner {
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.CloseGrace <= 0 {
		cfg.CloseGrace = defaultCloseGrace
	}
	if cfg.Adapter == nil {
		cfg.Adapter = provider.New(provider.DefaultID)
	}
	r := &SessionRunner{
		cfg:             cfg,
		adapter:         cfg.Adapter,
		dialer:          cfg.Dialer,
		usage:           cfg.Usage,
		inactivityCheck: inactivityCheckEvery,
		log: logrus.WithFields(logrus.Fields{
			"provider": cfg.Adapter.ID(),
			"session":  cfg.SessionID,
		}),
	}
	if r.dialer == nil {
		r.dialer = &websocket.Dialer{HandshakeTimeout: defaultDialTimeout}
	}
	if r.usage == nil {
		r.usage = nopUsage{}
	}
	return r
}

func (r *SessionRunner) emit(ev Event) {
	if r.cfg.OnEvent != nil {
		r.cfg.OnEvent(ev)
	}
}

func (r *SessionRunner) status(status, message string) {
	r.emit(statusEvent(status, message))
}

var errAudioClosed = errors.New("audio stream closed")

// Run держит соединение, пока открыт канал аудио. Пустой блок в канале -
// сигнал коммита. Возвращает nil после штатного завершения аудио.
func (r *SessionRunner) Run(ctx context.Context, audioCh <-chan []byte) error {
	if r.cfg.Settings.APIKey == "" {
		r.status(StatusError, "Missing API key for "+r.adapter.Name())
		return provider.ErrMissingAPIKey
	}
	failures := 0
	for {
		// конфигурация пересобирается на каждую попытку
		cc := r.adapter.ConnectionConfig(r.cfg.Settings)
		r.status(StatusLive, "Connecting...")
		ws, err := r.connect(ctx, cc)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ErrPermanent) {
				r.log.WithError(err).Error("authentication failed")
				r.status(StatusError, fmt.Sprintf("Authentication failed: %v", err))
				return err
			}
			failures++
			if failures > r.cfg.Backoff.MaxRetries {
				r.status(StatusError, fmt.Sprintf("Connection failed after %d retries", r.cfg.Backoff.MaxRetries))
				return fmt.Errorf("%w: %v", ErrRetriesExhausted, err)
			}
			delay := r.cfg.Backoff.Delay(failures)
			r.log.WithError(err).WithFields(logrus.Fields{
				"retry": failures,
				"delay": delay,
			}).Warn("connection failed")
			r.status(StatusError, fmt.Sprintf("Connection failed (retry %d): %v", failures, err))
			r.usage.AddReconnect()
			if err := r.wait(ctx, audioCh, delay); err != nil {
				return r.exitErr(err)
			}
			continue
		}
		failures = 0

		if len(cc.InitMessage) > 0 {
			if err := ws.WriteMessage(websocket.TextMessage, cc.InitMessage); err != nil {
				ws.Close()
				r.status(StatusError, fmt.Sprintf("Failed to send init message: %v", err))
				return fmt.Errorf("send init message: %w", err)
			}
		}
		r.status(StatusLive, "Listening")
		r.log.Info("connected")

		res := r.stream(ctx, ws, cc, audioCh)
		if res.timedOut {
			return ErrInactive
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.status(StatusIdle, "Ready")
		if res.audioClosed {
			return nil
		}

		r.usage.AddReconnect()
		if err := r.wait(ctx, audioCh, r.cfg.Backoff.Base); err != nil {
			return r.exitErr(err)
		}
	}
}

func (r *SessionRunner) exitErr(err error) error {
	if errors.Is(err, errAudioClosed) {
		return nil
	}
	return err
}

// wait пережидает задержку, отбрасывая аудио, которое некуда отправить
func (r *SessionRunner) wait(ctx context.Context, audioCh <-chan []byte, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case _, ok := <-audioCh:
			if !ok {
				return errAudioClosed
			}
		}
	}
}

func (r *SessionRunner) connect(ctx context.Context, cc provider.ConnectionConfig) (*websocket.Conn, error) {
	return dial(ctx, r.dialer, cc)
}

func dial(ctx context.Context, dialer Dialer, cc provider.ConnectionConfig) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()

	ws, resp, err := dialer.DialContext(dctx, cc.URL, cc.Headers)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
			if resp.Body != nil {
				resp.Body.Close()
			}
		}
		return nil, &ConnectError{Status: status, Permanent: isPermanentStatus(status), Err: err}
	}
	return ws, nil
}

// ValidateKey проверяет ключ: подключается и отправляет начальное сообщение
func ValidateKey(ctx context.Context, dialer Dialer, adapter provider.Adapter, settings provider.Settings) error {
	if settings.APIKey == "" {
		return provider.ErrMissingAPIKey
	}
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: defaultDialTimeout}
	}
	cc := adapter.ConnectionConfig(settings)
	ws, err := dial(ctx, dialer, cc)
	if err != nil {
		return err
	}
	defer ws.Close()

	if len(cc.InitMessage) > 0 {
		if err := ws.WriteMessage(websocket.TextMessage, cc.InitMessage); err != nil {
			return fmt.Errorf("send init message: %w", err)
		}
	}
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return nil
}

type streamResult struct {
	audioClosed bool
	timedOut    bool
}

// latencyWindow интервал от коммита до первого окончательного текста
type latencyWindow struct {
	mu         sync.Mutex
	open       bool
	id         uint64
	commitAt   time.Time
	firstDelta bool
}

// conn состояние одного соединения
type conn struct {
	ws *websocket.Conn
	cc provider.ConnectionConfig

	ctrl     chan []byte
	flush    chan struct{}
	recvDone chan struct{}
	closing  atomic.Bool

	activityID   atomic.Uint64
	lastActivity atomic.Time
	seq          uint64

	window latencyWindow
	timer  *flushTimer
}

func (r *SessionRunner) stream(ctx context.Context, ws *websocket.Conn, cc provider.ConnectionConfig, audioCh <-chan []byte) streamResult {
	c := &conn{
		ws:       ws,
		cc:       cc,
		ctrl:     make(chan []byte, ControlQueueSize),
		flush:    make(chan struct{}, FlushQueueSize),
		recvDone: make(chan struct{}),
	}
	c.lastActivity.Store(time.Now())
	c.timer = newFlushTimer(
		func(commitID, activity uint64) bool {
			if c.activityID.Load() != activity {
				return false
			}
			c.window.mu.Lock()
			defer c.window.mu.Unlock()
			return c.window.open && c.window.id == commitID
		},
		func(commitID uint64) {
			r.log.WithField("commit", commitID).Debug("commit flush timeout")
			select {
			case c.flush <- struct{}{}:
			default:
			}
		},
	)
	defer c.timer.cancel()

	var res streamResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res = r.sendLoop(gctx, c, audioCh)
		return nil
	})
	g.Go(func() error {
		r.receiveLoop(c)
		return nil
	})
	_ = g.Wait()
	return res
}

func (r *SessionRunner) sendLoop(ctx context.Context, c *conn, audioCh <-chan []byte) (res streamResult) {
	defer c.ws.Close()

	rate := c.cc.SampleRate
	minChunkBytes := 0
	if c.cc.MinChunk > 0 {
		minChunkBytes = audio.BytesForMs(int(c.cc.MinChunk.Milliseconds()), rate)
	}
	var pending []byte
	frames := 0

	var keepalive <-chan time.Time
	var keepaliveTimer *time.Timer
	if len(c.cc.KeepaliveMessage) > 0 && c.cc.KeepaliveInterval > 0 {
		keepaliveTimer = time.NewTimer(c.cc.KeepaliveInterval)
		defer keepaliveTimer.Stop()
		keepalive = keepaliveTimer.C
	}
	resetKeepalive := func() {
		if keepaliveTimer == nil {
			return
		}
		if !keepaliveTimer.Stop() {
			select {
			case <-keepaliveTimer.C:
			default:
			}
		}
		keepaliveTimer.Reset(c.cc.KeepaliveInterval)
	}

	var inactivity <-chan time.Time
	if r.cfg.InactivityTimeout > 0 {
		ticker := time.NewTicker(r.inactivityCheck)
		defer ticker.Stop()
		inactivity = ticker.C
	}

	sendPCM := func(pcm []byte) error {
		frame, err := c.cc.Encoding.Encode(pcm)
		if err != nil {
			return fmt.Errorf("encode audio: %w", err)
		}
		kind := websocket.TextMessage
		if frame.Binary {
			kind = websocket.BinaryMessage
		}
		if err := c.ws.WriteMessage(kind, frame.Data); err != nil {
			return err
		}
		r.usage.AddSent(uint64(len(pcm)), uint64(audio.DurationMs(len(pcm), rate)))
		return nil
	}

	drain := func(all bool) error {
		if minChunkBytes == 0 {
			if len(pending) == 0 {
				return nil
			}
			err := sendPCM(pending)
			pending = pending[:0]
			return err
		}
		for len(pending) >= minChunkBytes {
			if err := sendPCM(pending[:minChunkBytes]); err != nil {
				return err
			}
			pending = pending[minChunkBytes:]
		}
		if all && len(pending) > 0 {
			pending = append(pending, make([]byte, minChunkBytes-len(pending))...)
			err := sendPCM(pending)
			pending = pending[:0]
			return err
		}
		return nil
	}

	commit := func() error {
		if err := drain(true); err != nil {
			return err
		}
		if c.cc.PreCommitSilence > 0 {
			if err := sendPCM(audio.Silence(int(c.cc.PreCommitSilence.Milliseconds()), rate)); err != nil {
				return err
			}
		}
		if len(c.cc.CommitMessage) > 0 {
			if err := c.ws.WriteMessage(websocket.TextMessage, c.cc.CommitMessage); err != nil {
				return err
			}
		}
		c.lastActivity.Store(time.Now())

		c.seq++
		commitID := c.seq
		c.window.mu.Lock()
		c.window.open = true
		c.window.id = commitID
		c.window.commitAt = time.Now()
		c.window.firstDelta = false
		c.window.mu.Unlock()
		r.usage.AddCommit()

		timeout := c.cc.FlushTimeout
		if timeout < minFlushTimeout {
			timeout = minFlushTimeout
		}
		c.timer.arm(commitID, c.activityID.Load(), timeout)
		r.log.WithField("commit", commitID).Debug("commit sent")
		return nil
	}

	closeGracefully := func(skipGrace bool) {
		c.closing.Store(true)
		for pendingCtrl := true; pendingCtrl; {
			select {
			case msg := <-c.ctrl:
				_ = c.ws.WriteMessage(websocket.TextMessage, msg)
			default:
				pendingCtrl = false
			}
		}
		if err := drain(true); err != nil {
			r.log.WithError(err).Debug("failed to send trailing audio")
		}
		msg := c.cc.CloseMessage
		if len(msg) == 0 {
			msg = c.cc.CommitMessage
		}
		if len(msg) > 0 {
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				r.log.WithError(err).Debug("failed to send close message")
				skipGrace = true
			}
		}
		if !skipGrace {
			grace := time.NewTimer(r.cfg.CloseGrace)
			select {
			case <-grace.C:
			case <-c.recvDone:
			case <-ctx.Done():
			}
			grace.Stop()
		}
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	}

	fail := func(err error) streamResult {
		r.log.WithError(err).Warn("send failed")
		c.closing.Store(true)
		return streamResult{}
	}

	for {
		select {
		case <-ctx.Done():
			closeGracefully(true)
			return res

		case <-c.recvDone:
			// соединение закрыто сервером, прощаться не с кем
			return res

		case chunk, ok := <-audioCh:
			if !ok {
				closeGracefully(false)
				res.audioClosed = true
				return res
			}
			if session.IsCommit(chunk) {
				if err := commit(); err != nil {
					return fail(err)
				}
				continue
			}

			resetKeepalive()
			c.activityID.Inc()
			c.timer.cancel()
			c.lastActivity.Store(time.Now())
			frames++
			if frames%logEveryFrames == 0 {
				r.log.WithFields(logrus.Fields{
					"frames":  frames,
					"pending": len(pending),
				}).Debug("streaming audio")
			}
			pending = append(pending, chunk...)
			if err := drain(false); err != nil {
				return fail(err)
			}

		case msg := <-c.ctrl:
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return fail(err)
			}
			c.lastActivity.Store(time.Now())

		case <-keepalive:
			if err := c.ws.WriteMessage(websocket.TextMessage, c.cc.KeepaliveMessage); err != nil {
				return fail(err)
			}
			c.lastActivity.Store(time.Now())
			keepaliveTimer.Reset(c.cc.KeepaliveInterval)

		case <-inactivity:
			idle := time.Since(c.lastActivity.Load())
			if idle < r.cfg.InactivityTimeout {
				continue
			}
			r.log.WithField("idle", idle).Info("session inactive, closing")
			r.emit(Event{Type: EventSessionTimedOut, Message: "inactivity timeout"})
			closeGracefully(false)
			res.timedOut = true
			return res
		}
	}
}

type wsMessage struct {
	kind int
	data []byte
}

func (r *SessionRunner) receiveLoop(c *conn) {
	defer close(c.recvDone)

	incoming := make(chan wsMessage)
	readErr := make(chan error, 1)
	go func() {
		defer close(incoming)
		for {
			kind, data, err := c.ws.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			incoming <- wsMessage{kind: kind, data: data}
		}
	}()

	for {
		select {
		case m, ok := <-incoming:
			if !ok {
				r.onReadEnd(c, <-readErr)
				r.handle(c, r.adapter.Flush())
				r.status(StatusIdle, "Disconnected")
				return
			}
			if m.kind != websocket.TextMessage {
				continue
			}
			c.lastActivity.Store(time.Now())
			r.handle(c, r.adapter.ParseEvent(m.data))

		case <-c.flush:
			r.handle(c, r.adapter.Flush())
		}
	}
}

func (r *SessionRunner) onReadEnd(c *conn, err error) {
	if c.closing.Load() {
		return
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		r.log.WithFields(logrus.Fields{
			"code":   closeErr.Code,
			"reason": closeErr.Text,
		}).Warn("provider closed connection")
		r.status(StatusError, fmt.Sprintf("Disconnected: %d %s", closeErr.Code, closeErr.Text))
		return
	}
	r.log.WithError(err).Warn("connection lost")
	r.status(StatusError, "Disconnected")
}

func (r *SessionRunner) handle(c *conn, events []provider.Event) {
	for _, ev := range events {
		switch ev.Kind {
		case provider.EventDelta:
			c.window.mu.Lock()
			if c.window.open && !c.window.firstDelta {
				c.window.firstDelta = true
				r.log.WithFields(logrus.Fields{
					"commit":  c.window.id,
					"latency": time.Since(c.window.commitAt),
				}).Debug("first delta after commit")
			}
			c.window.mu.Unlock()
			r.emit(Event{Type: EventTranscriptDelta, Text: ev.Text})

		case provider.EventFinal:
			c.window.mu.Lock()
			wasOpen := c.window.open
			latency := time.Since(c.window.commitAt)
			id := c.window.id
			c.window.open = false
			c.window.mu.Unlock()
			if wasOpen {
				c.timer.cancel()
				r.usage.ObserveCommitLatency(latency)
				r.log.WithFields(logrus.Fields{
					"commit":  id,
					"latency": latency,
				}).Debug("first final after commit")
			}
			r.usage.AddFinal()
			r.emit(Event{Type: EventTranscriptFinal, Text: ev.Text})

		case provider.EventSendControl:
			select {
			case c.ctrl <- []byte(ev.Text):
			default:
				r.log.Warn("control queue full, dropping message")
			}

		case provider.EventError:
			r.log.WithField("error", ev.Text).Warn("provider error")
			r.status(StatusError, ev.Text)

		case provider.EventStatus:
			r.log.WithField("status", ev.Text).Debug("provider status")
		}
	}
}
