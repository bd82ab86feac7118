package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"voxstream/ai"
	"voxstream/audio"
	"voxstream/internal/config"
	"voxstream/internal/usage"
	"voxstream/models"
	"voxstream/provider"
	"voxstream/session"
)

const stopTimeout = 5 * time.Second

// SourceOpener открывает источник аудио с желаемой частотой
type SourceOpener func(device string, targetRate int) (audio.Source, error)

// OpenCapture источник по умолчанию - микрофон через malgo
func OpenCapture(device string, targetRate int) (audio.Source, error) {
	return audio.StartCapture(device, targetRate)
}

// RecordingOptions зависимости RecordingService
type RecordingOptions struct {
	VAD          config.VADConfig
	RecordingDir string
	// RecordingFormat mp3 или wav
	RecordingFormat string
	Usage           *usage.Recorder
	Models          *models.Manager
	Dialer          Dialer
	OpenSource      SourceOpener
	Backoff         Backoff
	CloseGrace      time.Duration
}

// RecordingService владеет единственной активной сессией диктовки:
// захват, сегментация и потоковое распознавание
type RecordingService struct {
	opts RecordingOptions

	mu     sync.Mutex
	gen    uint64
	active *activeSession
	// startCancel не nil, пока Start открывает устройство и детектор
	startCancel context.CancelFunc
	// lastDone закрывается, когда последняя запущенная сессия полностью завершилась
	lastDone chan struct{}

	// OnEvent получает все события сессий
	OnEvent func(Event)
}

type activeSession struct {
	gen       uint64
	id        string
	provider  string
	source    audio.Source
	processor *session.Processor
	usage     *usage.Session
	cancel    context.CancelFunc
	maxTimer  *time.Timer
	// runnerDone закрывается при выходе из SessionRunner.Run
	runnerDone chan struct{}
	// done закрывается, когда остановлены и распознавание, и обработка
	done chan struct{}
}

// SessionInfo описание активной сессии
type SessionInfo struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	Mode     string `json:"vad_mode"`
}

func NewRecordingService(opts RecordingOptions) *RecordingService {
	if opts.OpenSource == nil {
		opts.OpenSource = OpenCapture
	}
	if opts.Usage == nil {
		opts.Usage = usage.NewRecorder(nil)
	}
	return &RecordingService{opts: opts}
}

func (s *RecordingService) emit(ev Event) {
	if s.OnEvent != nil {
		s.OnEvent(ev)
	}
}

// Start запускает сессию со снимком настроек. Захват стартует и без
// ключа: ошибку провайдера сообщает статус, а VAD продолжает работать.
func (s *RecordingService) Start(settings config.SessionSettings, device string) (SessionInfo, error) {
	s.mu.Lock()
	if s.active != nil || s.startCancel != nil {
		s.mu.Unlock()
		return SessionInfo{}, ErrSessionActive
	}
	startCtx, startCancel := context.WithCancel(context.Background())
	s.startCancel = startCancel
	s.mu.Unlock()

	ps := settings.ProviderSettings()
	adapter := provider.New(settings.Provider)
	cc := adapter.ConnectionConfig(ps)
	log := logrus.WithField("provider", adapter.ID())

	// устройство и модель открываются без s.mu
	source, err := s.opts.OpenSource(device, cc.SampleRate)
	if err != nil {
		s.finishStart()
		return SessionInfo{}, fmt.Errorf("failed to start audio capture: %w", err)
	}
	classifier, closeClassifier := s.classifier(startCtx, log)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.startCancel = nil
	cancelled := startCtx.Err() != nil
	startCancel()
	if cancelled {
		closeClassifier()
		if err := source.Stop(); err != nil {
			log.WithError(err).Warn("failed to stop audio source")
		}
		log.Info("session start cancelled")
		return SessionInfo{}, ErrStartCancelled
	}

	s.gen++
	gen := s.gen
	us := s.opts.Usage.StartSession(adapter.ID())
	log = log.WithField("session", us.ID)

	var recorder *session.UtteranceRecorder
	if s.opts.RecordingDir != "" {
		recorder, err = session.NewUtteranceRecorder(s.opts.RecordingDir, cc.SampleRate, s.opts.RecordingFormat)
		if err != nil {
			log.WithError(err).Warn("utterance recording disabled")
			recorder = nil
		}
	}

	mode := settings.Mode()
	processor := session.NewProcessor(session.ProcessorConfig{
		InputRate:  source.SampleRate(),
		TargetRate: cc.SampleRate,
		Mode:       mode,
		Classifier: classifier,
		Usage:      us,
		Recorder:   recorder,
	})
	processor.OnLevels = func(bars [audio.BarCount]float32) {
		s.emit(Event{Type: EventAudioLevel, Levels: bars})
	}

	runner := NewSessionRunner(RunnerConfig{
		Adapter:           adapter,
		Settings:          ps,
		InactivityTimeout: settings.InactivityTimeout(),
		Backoff:           s.opts.Backoff,
		Dialer:            s.opts.Dialer,
		Usage:             us,
		CloseGrace:        s.opts.CloseGrace,
		SessionID:         us.ID,
		OnEvent:           s.emit,
	})

	ctx, cancel := context.WithCancel(context.Background())
	act := &activeSession{
		gen:        gen,
		id:         us.ID,
		provider:   adapter.ID(),
		source:     source,
		processor:  processor,
		usage:      us,
		cancel:     cancel,
		runnerDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
	act.maxTimer = time.AfterFunc(settings.MaxSessionDuration(), func() { s.onMaxDuration(gen) })
	s.active = act
	s.lastDone = act.done

	audioCh := make(chan []byte, session.AudioQueueSize)
	processed := make(chan struct{})
	go func() {
		processor.Run(source.Data(), audioCh)
		closeClassifier()
		close(processed)
	}()
	go func() {
		err := runner.Run(ctx, audioCh)
		close(act.runnerDone)
		s.onRunnerExit(act, err, audioCh)
		<-processed
		us.End()
		close(act.done)
	}()
	go s.watchLost(act)

	log.WithFields(logrus.Fields{
		"input_rate":  source.SampleRate(),
		"target_rate": cc.SampleRate,
		"vad_mode":    mode.String(),
	}).Info("session started")

	return SessionInfo{ID: us.ID, Provider: adapter.ID(), Mode: mode.String()}, nil
}

func (s *RecordingService) finishStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startCancel != nil {
		s.startCancel()
		s.startCancel = nil
	}
}

// classifier выбирает детектор речи; Silero с откатом на энергетический.
// Второе значение освобождает ресурсы детектора после остановки обработки.
func (s *RecordingService) classifier(ctx context.Context, log *logrus.Entry) (session.Classifier, func()) {
	energy := func() (session.Classifier, func()) {
		return session.NewEnergyClassifier(), func() {}
	}
	if s.opts.VAD.Classifier != "silero" {
		return energy()
	}
	path := s.opts.VAD.ModelPath
	if path == "" && s.opts.Models != nil {
		var err error
		path, err = s.opts.Models.EnsureModel(ctx, models.SileroVADID)
		if err != nil {
			log.WithError(err).Warn("silero model unavailable, using energy vad")
			return energy()
		}
	}
	c, err := ai.NewSileroClassifier(ai.SileroConfig{ModelPath: path})
	if err != nil {
		log.WithError(err).Warn("silero vad unavailable, using energy vad")
		return energy()
	}
	return c, c.Close
}

// Stop останавливает активную сессию. Последняя реплика коммитится,
// соединение закрывается в фоне. Незавершённый Start прерывается.
func (s *RecordingService) Stop() error {
	s.mu.Lock()
	act := s.active
	s.active = nil
	starting := s.startCancel != nil
	if starting {
		s.startCancel()
	}
	s.mu.Unlock()

	if act == nil {
		if starting {
			return nil
		}
		return ErrNoSession
	}
	s.teardown(act)
	return nil
}

func (s *RecordingService) teardown(act *activeSession) {
	act.maxTimer.Stop()
	if err := act.source.Stop(); err != nil {
		logrus.WithError(err).WithField("session", act.id).Warn("failed to stop audio source")
	}
	go func() {
		select {
		case <-act.runnerDone:
		case <-time.After(stopTimeout):
			act.cancel()
		}
	}()
}

// Wait блокируется до завершения последней сессии (включая закрытие
// соединения после Stop) или отмены ctx
func (s *RecordingService) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.lastDone
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active описание текущей сессии
func (s *RecordingService) Active() (SessionInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return SessionInfo{}, false
	}
	return SessionInfo{
		ID:       s.active.id,
		Provider: s.active.provider,
		Mode:     s.active.processor.Mode().String(),
	}, true
}

// SetMode меняет режим детектора активной сессии на лету
func (s *RecordingService) SetMode(mode session.VADMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ErrNoSession
	}
	s.active.processor.SetMode(mode)
	return nil
}

// Usage снимок учёта
func (s *RecordingService) Usage() usage.Snapshot {
	return s.opts.Usage.Snapshot()
}

// release снимает сессию gen, если она всё ещё активна
func (s *RecordingService) release(gen uint64) *activeSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || s.active.gen != gen {
		return nil
	}
	act := s.active
	s.active = nil
	return act
}

// onRunnerExit снимает сессию после выхода распознавания. При ошибке
// провайдера захват и VAD работают дальше, пока источник не закроется
// (Stop, лимит длительности, потеря устройства); аудио отбрасывается.
func (s *RecordingService) onRunnerExit(act *activeSession, err error, audioCh <-chan []byte) {
	act.cancel()

	log := logrus.WithField("session", act.id)
	switch {
	case err == nil:
		log.Info("session finished")
	case errors.Is(err, ErrInactive):
		log.Info("session closed after inactivity")
	case errors.Is(err, context.Canceled):
		log.Info("session cancelled")
	default:
		log.WithError(err).Warn("transcription stopped, capture keeps running")
		for range audioCh {
		}
	}

	if own := s.release(act.gen); own != nil {
		s.teardown(own)
	}
}

func (s *RecordingService) onMaxDuration(gen uint64) {
	act := s.release(gen)
	if act == nil {
		return
	}
	logrus.WithField("session", act.id).Info("max session length reached")
	s.emit(Event{Type: EventSessionTimedOut, Message: "max session length reached"})
	s.teardown(act)
}

func (s *RecordingService) watchLost(act *activeSession) {
	select {
	case err, ok := <-act.source.Lost():
		if !ok || err == nil {
			return
		}
		if own := s.release(act.gen); own != nil {
			logrus.WithError(err).WithField("session", act.id).Warn("audio input lost")
			s.emit(Event{Type: EventAudioInputLost, Message: err.Error()})
			s.teardown(own)
		}
	case <-act.done:
	}
}
