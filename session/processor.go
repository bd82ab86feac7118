package session

import (
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"voxstream/audio"
)

const (
	// AudioQueueSize ёмкость канала PCM блоков к сессии
	AudioQueueSize = 256

	commitAttempts   = 25
	commitRetryDelay = 4 * time.Millisecond

	// defaultMaxTurn интервал коммитов при выключенном детекторе
	defaultMaxTurn = 10 * time.Second
)

// IsCommit true для пустого блока - сигнала конца реплики
func IsCommit(chunk []byte) bool { return len(chunk) == 0 }

// UsageSink принимает учёт подавленной тишины
type UsageSink interface {
	AddSuppressed(ms uint64)
}

// ProcessorConfig параметры потока обработки
type ProcessorConfig struct {
	InputRate  int
	TargetRate int
	Mode       VADMode
	// Classifier детектор речи; по умолчанию энергетический
	Classifier Classifier
	// MaxTurn длительность реплики при выключенном детекторе
	MaxTurn time.Duration
	Usage   UsageSink
	// Recorder необязательная запись реплик в MP3
	Recorder *UtteranceRecorder
}

// Processor поток обработки: ресемплинг, детектор речи, сегментация.
// Всё состояние принадлежит горутине Run.
type Processor struct {
	inputRate  int
	targetRate int
	mode       atomic.Int32

	classifier Classifier
	sendRes    *audio.Resampler
	vadRes     *audio.Resampler
	frameBuf   []int16
	seg        *segmenter
	spectrum   *audio.Spectrum
	usage      UsageSink
	recorder   *UtteranceRecorder

	// OnLevels вызывается с полосами спектра из потока обработки
	OnLevels func(bars [audio.BarCount]float32)
	// OnAction вызывается после каждого блока с решением сегментатора
	OnAction func(act Action)

	dropped atomic.Uint64
	commits atomic.Uint64
	log     *logrus.Entry
}

// NewProcessor создаёт поток обработки
func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.TargetRate <= 0 {
		cfg.TargetRate = audio.DefaultSampleRate
	}
	if cfg.InputRate <= 0 {
		cfg.InputRate = cfg.TargetRate
	}
	if cfg.Classifier == nil {
		cfg.Classifier = NewEnergyClassifier()
	}
	if cfg.MaxTurn <= 0 {
		cfg.MaxTurn = defaultMaxTurn
	}

	p := &Processor{
		inputRate:  cfg.InputRate,
		targetRate: cfg.TargetRate,
		classifier: cfg.Classifier,
		sendRes:    audio.NewResampler(cfg.InputRate, cfg.TargetRate),
		vadRes:     audio.NewResampler(cfg.InputRate, VADSampleRate),
		frameBuf:   make([]int16, 0, VADFrameSamples*3),
		seg:        newSegmenter(cfg.TargetRate, float64(cfg.MaxTurn.Milliseconds())),
		spectrum:   audio.NewSpectrum(),
		usage:      cfg.Usage,
		recorder:   cfg.Recorder,
		log: logrus.WithFields(logrus.Fields{
			"component": "segmenter",
			"rate":      cfg.TargetRate,
		}),
	}
	p.mode.Store(int32(cfg.Mode))
	return p
}

// SetMode меняет режим детектора, применяется со следующего блока
func (p *Processor) SetMode(m VADMode) { p.mode.Store(int32(m)) }

// Mode текущий режим
func (p *Processor) Mode() VADMode { return VADMode(p.mode.Load()) }

// Dropped количество блоков, не поместившихся в выходной канал
func (p *Processor) Dropped() uint64 { return p.dropped.Load() }

// Commits количество отправленных сигналов коммита
func (p *Processor) Commits() uint64 { return p.commits.Load() }

// Run читает сэмплы до закрытия in и закрывает out по завершении
func (p *Processor) Run(in <-chan []float32, out chan<- []byte) {
	defer close(out)

	for samples := range in {
		p.process(samples, out)
	}

	profile := ProfileFor(p.Mode())
	act := p.seg.finish(profile)
	p.apply(act, out)
	if p.recorder != nil {
		if err := p.recorder.Close(); err != nil {
			p.log.WithError(err).Warn("failed to close utterance recorder")
		}
	}
	if p.OnLevels != nil {
		p.OnLevels([audio.BarCount]float32{})
	}
	p.log.WithFields(logrus.Fields{
		"commits": p.commits.Load(),
		"dropped": p.dropped.Load(),
	}).Info("processing stopped")
}

func (p *Processor) process(samples []float32, out chan<- []byte) {
	if len(samples) == 0 {
		return
	}
	mode := p.Mode()
	profile := ProfileFor(mode)

	sendSamples := p.sendRes.Process(samples)
	pcm := audio.Float32ToPCM16(sendSamples)
	chunkMs := float64(len(sendSamples)) / float64(p.targetRate) * 1000.0

	frames := p.classify(samples, profile)

	if p.OnLevels != nil {
		if bars, ok := p.spectrum.Push(samples); ok {
			p.OnLevels(bars)
		}
	}

	act := p.seg.step(pcm, chunkMs, frames, profile)
	p.logAction(act, mode, profile, pcm)
	p.apply(act, out)
}

// classify прогоняет 16 кГц побочный поток через детектор по 20 мс кадрам
func (p *Processor) classify(samples []float32, profile TimingProfile) []bool {
	if profile.Passthrough {
		return nil
	}
	p.classifier.SetAggressiveness(profile.Aggressiveness)

	vadSamples := p.vadRes.Process(samples)
	p.frameBuf = append(p.frameBuf, audio.Float32ToInt16(vadSamples)...)

	var frames []bool
	for len(p.frameBuf) >= VADFrameSamples {
		speech, err := p.classifier.IsSpeech(p.frameBuf[:VADFrameSamples])
		if err != nil {
			p.log.WithError(err).Debug("vad classify failed")
			speech = false
		}
		frames = append(frames, speech)
		p.frameBuf = append(p.frameBuf[:0], p.frameBuf[VADFrameSamples:]...)
	}
	return frames
}

func (p *Processor) apply(act Action, out chan<- []byte) {
	for _, chunk := range act.Forward {
		if len(chunk) == 0 {
			continue
		}
		select {
		case out <- chunk:
		default:
			if n := p.dropped.Inc(); n%50 == 1 {
				p.log.WithField("dropped", n).Warn("audio queue full, dropping chunk")
			}
		}
		if p.recorder != nil {
			p.recorder.Write(chunk)
		}
	}

	if act.SuppressedMs > 0 && p.usage != nil {
		p.usage.AddSuppressed(uint64(act.SuppressedMs))
	}

	if act.Commit {
		p.sendCommit(out)
		if p.recorder != nil {
			p.recorder.Commit()
		}
	}
	if act.Dropped && p.recorder != nil {
		p.recorder.Discard()
	}
	if p.OnAction != nil {
		p.OnAction(act)
	}
}

// sendCommit отправляет пустой блок с ограниченным числом попыток
func (p *Processor) sendCommit(out chan<- []byte) {
	for attempt := 1; attempt <= commitAttempts; attempt++ {
		select {
		case out <- []byte{}:
			p.commits.Inc()
			return
		default:
		}
		if attempt < commitAttempts {
			time.Sleep(commitRetryDelay)
		}
	}
	p.log.Warn("commit dropped after retries: audio queue remained full")
}

func (p *Processor) logAction(act Action, mode VADMode, profile TimingProfile, pcm []byte) {
	switch {
	case act.Started:
		p.log.WithFields(logrus.Fields{
			"mode":    mode.String(),
			"peak":    audio.Peak(pcm),
			"preroll": len(act.Forward),
		}).Debug("vad start")
	case act.Stopping:
		p.log.WithFields(logrus.Fields{
			"mode":     mode.String(),
			"voicedMs": act.VoicedMs,
			"postRoll": profile.PostRollMs,
		}).Debug("vad stop")
	case act.Dropped:
		p.log.WithFields(logrus.Fields{
			"voicedMs":  act.VoicedMs,
			"minTurnMs": profile.MinTurnMs,
		}).Debug("dropping micro-turn")
	}
	if act.Commit {
		p.log.WithFields(logrus.Fields{
			"mode":     mode.String(),
			"voicedMs": act.VoicedMs,
		}).Debug("vad commit")
	}
}
