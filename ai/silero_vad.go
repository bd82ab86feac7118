// Package ai содержит Silero VAD классификатор речи на ONNX Runtime
package ai

import (
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"

	"voxstream/session"
)

const (
	sileroSampleRate  = 16000
	sileroWindow      = 512 // 32 мс на 16 кГц
	sileroContextSize = 64
	sileroStateSize   = 2 * 1 * 128
)

// sileroThresholds порог вероятности речи по агрессивности
var sileroThresholds = [...]float32{
	session.Quality:        0.35,
	session.LowBitrate:     0.45,
	session.Aggressive:     0.55,
	session.VeryAggressive: 0.7,
}

// SileroConfig конфигурация Silero классификатора
type SileroConfig struct {
	ModelPath string // путь к silero_vad.onnx
}

// SileroClassifier классификатор 20 мс кадров на основе Silero VAD.
// Модель работает окнами по 512 сэмплов, поэтому кадры копятся во внутреннем
// буфере, а решение по кадру - последняя посчитанная вероятность.
type SileroClassifier struct {
	session *ort.DynamicAdvancedSession

	// LSTM состояние [2, 1, 128] сохраняется между окнами
	state []float32
	// последние 64 сэмпла предыдущего окна
	context []float32

	pending   []float32
	lastProb  float32
	threshold float32

	mu sync.Mutex
}

var _ session.Classifier = (*SileroClassifier)(nil)

// NewSileroClassifier загружает модель
func NewSileroClassifier(cfg SileroConfig) (*SileroClassifier, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}

	if err := initONNXRuntime(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	// inputs: input, state, sr; outputs: output, stateN
	sess, err := ort.NewDynamicAdvancedSession(
		cfg.ModelPath,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	c := &SileroClassifier{
		session: sess,
		state:   make([]float32, sileroStateSize),
		context: make([]float32, sileroContextSize),
		pending: make([]float32, 0, sileroWindow*2),
	}
	c.SetAggressiveness(session.Aggressive)

	logrus.WithField("model", cfg.ModelPath).Info("silero vad classifier loaded")
	return c, nil
}

// SetAggressiveness меняет порог вероятности
func (c *SileroClassifier) SetAggressiveness(a session.Aggressiveness) {
	if a < session.Quality {
		a = session.Quality
	}
	if a > session.VeryAggressive {
		a = session.VeryAggressive
	}
	c.mu.Lock()
	c.threshold = sileroThresholds[a]
	c.mu.Unlock()
}

// IsSpeech классифицирует 20 мс кадр 16 кГц PCM16
func (c *SileroClassifier) IsSpeech(frame []int16) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range frame {
		c.pending = append(c.pending, float32(s)/32768.0)
	}
	for len(c.pending) >= sileroWindow {
		prob, err := c.infer(c.pending[:sileroWindow])
		if err != nil {
			return false, err
		}
		c.lastProb = prob
		c.pending = append(c.pending[:0], c.pending[sileroWindow:]...)
	}
	return c.lastProb >= c.threshold, nil
}

// LastProbability последняя вероятность речи
func (c *SileroClassifier) LastProbability() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastProb
}

// Reset сбрасывает LSTM состояние и буферы
func (c *SileroClassifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.state {
		c.state[i] = 0
	}
	for i := range c.context {
		c.context[i] = 0
	}
	c.pending = c.pending[:0]
	c.lastProb = 0
}

// infer прогоняет одно окно; вызывается под mu
func (c *SileroClassifier) infer(window []float32) (float32, error) {
	input := make([]float32, sileroContextSize+len(window))
	copy(input, c.context)
	copy(input[sileroContextSize:], window)
	copy(c.context, window[len(window)-sileroContextSize:])

	inputTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(input))), input)
	if err != nil {
		return 0, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	stateTensor, err := ort.NewTensor(ort.NewShape(2, 1, 128), c.state)
	if err != nil {
		return 0, fmt.Errorf("failed to create state tensor: %w", err)
	}
	defer stateTensor.Destroy()

	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{sileroSampleRate})
	if err != nil {
		return 0, fmt.Errorf("failed to create sr tensor: %w", err)
	}
	defer srTensor.Destroy()

	outputs := []ort.Value{nil, nil}
	if err := c.session.Run([]ort.Value{inputTensor, stateTensor, srTensor}, outputs); err != nil {
		return 0, fmt.Errorf("failed to run inference: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	prob := outputs[0].(*ort.Tensor[float32]).GetData()
	copy(c.state, outputs[1].(*ort.Tensor[float32]).GetData())

	if len(prob) == 0 {
		return 0, nil
	}
	return prob[0], nil
}

// Close освобождает сессию ONNX
func (c *SileroClassifier) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		c.session.Destroy()
		c.session = nil
	}
}
