package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/hajimehoshi/go-mp3"
	"github.com/sirupsen/logrus"
)

// FileSource проигрывает заранее загруженные сэмплы как источник захвата.
// Используется для отладки сегментации на записях и в тестах.
type FileSource struct {
	samples    []float32
	sampleRate int
	chunk      int
	realtime   bool

	data     chan []float32
	lost     chan error
	stop     chan struct{}
	stopOnce sync.Once
	started  sync.Once
}

// NewSliceSource создаёт источник из готовых моно сэмплов.
// chunkMs - длительность одного блока, realtime - выдерживать темп реального времени.
func NewSliceSource(samples []float32, sampleRate, chunkMs int, realtime bool) *FileSource {
	if chunkMs <= 0 {
		chunkMs = 20
	}
	chunk := sampleRate * chunkMs / 1000
	if chunk <= 0 {
		chunk = 1
	}
	return &FileSource{
		samples:    samples,
		sampleRate: sampleRate,
		chunk:      chunk,
		realtime:   realtime,
		data:       make(chan []float32, RawQueueSize),
		lost:       make(chan error, 1),
		stop:       make(chan struct{}),
	}
}

// OpenMP3 декодирует MP3 файл в моно (среднее каналов)
func OpenMP3(path string, chunkMs int, realtime bool) (*FileSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}
	defer file.Close()

	decoder, err := mp3.NewDecoder(file)
	if err != nil {
		return nil, fmt.Errorf("failed to create MP3 decoder: %w", err)
	}

	// go-mp3 всегда отдаёт 16-bit стерео
	pcm, err := io.ReadAll(decoder)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("failed to decode MP3: %w", err)
	}
	frames := len(pcm) / 4
	mono := make([]float32, frames)
	for i := 0; i < frames; i++ {
		left := int16(binary.LittleEndian.Uint16(pcm[i*4:]))
		right := int16(binary.LittleEndian.Uint16(pcm[i*4+2:]))
		mono[i] = (float32(left) + float32(right)) / 2 / 32768.0
	}

	logrus.WithFields(logrus.Fields{
		"file":     path,
		"rate":     decoder.SampleRate(),
		"duration": time.Duration(frames) * time.Second / time.Duration(decoder.SampleRate()),
	}).Info("mp3 source loaded")

	return NewSliceSource(mono, decoder.SampleRate(), chunkMs, realtime), nil
}

// Start запускает выдачу блоков. Канал Data закрывается по окончании данных или после Stop.
func (s *FileSource) Start() {
	s.started.Do(func() { go s.run() })
}

func (s *FileSource) run() {
	defer close(s.data)

	var ticker *time.Ticker
	if s.realtime {
		ticker = time.NewTicker(time.Duration(s.chunk) * time.Second / time.Duration(s.sampleRate))
		defer ticker.Stop()
	}

	for off := 0; off < len(s.samples); off += s.chunk {
		end := off + s.chunk
		if end > len(s.samples) {
			end = len(s.samples)
		}
		block := make([]float32, end-off)
		copy(block, s.samples[off:end])

		if ticker != nil {
			select {
			case <-ticker.C:
			case <-s.stop:
				return
			}
		}
		select {
		case s.data <- block:
		case <-s.stop:
			return
		}
	}
}

// Data канал блоков
func (s *FileSource) Data() <-chan []float32 { return s.data }

// SampleRate частота сэмплов файла
func (s *FileSource) SampleRate() int { return s.sampleRate }

// Lost источник из файла не теряется
func (s *FileSource) Lost() <-chan error { return s.lost }

// Stop прекращает выдачу
func (s *FileSource) Stop() error {
	s.stopOnce.Do(func() { close(s.stop) })
	// Если выдача не запускалась, run сразу закроет Data
	s.Start()
	return nil
}
