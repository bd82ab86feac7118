package session

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Форматы файлов реплик
const (
	FormatMP3 = "mp3"
	FormatWAV = "wav"
)

type utteranceWriter interface {
	write(pcm []byte)
	duration() time.Duration
	close() error
}

// UtteranceRecorder сохраняет каждую отправленную реплику в отдельный файл
// (MP3 через shine или WAV). Используется только потоком обработки.
type UtteranceRecorder struct {
	dir        string
	sampleRate int
	format     string
	current    utteranceWriter
	path       string
	log        *logrus.Entry

	// OnSaved вызывается с путём файла после коммита реплики
	OnSaved func(path string)
}

// NewUtteranceRecorder создаёт каталог и рекордер; пустой format - MP3
func NewUtteranceRecorder(dir string, sampleRate int, format string) (*UtteranceRecorder, error) {
	switch format {
	case "":
		format = FormatMP3
	case FormatMP3, FormatWAV:
	default:
		return nil, fmt.Errorf("unknown utterance format %q", format)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create utterance dir: %w", err)
	}
	return &UtteranceRecorder{
		dir:        dir,
		sampleRate: sampleRate,
		format:     format,
		log:        logrus.WithField("component", "utterance-recorder"),
	}, nil
}

// Write добавляет блок текущей реплики, открывая файл при необходимости
func (r *UtteranceRecorder) Write(pcm []byte) {
	if r.current == nil {
		path := filepath.Join(r.dir, uuid.NewString()+"."+r.format)
		w, err := r.open(path)
		if err != nil {
			r.log.WithError(err).Warn("failed to open utterance file")
			return
		}
		r.current = w
		r.path = path
	}
	r.current.write(pcm)
}

func (r *UtteranceRecorder) open(path string) (utteranceWriter, error) {
	if r.format == FormatWAV {
		return newWAVWriter(path, r.sampleRate)
	}
	return newShineWriter(path, r.sampleRate)
}

// Commit закрывает файл текущей реплики
func (r *UtteranceRecorder) Commit() {
	if r.current == nil {
		return
	}
	w, path := r.current, r.path
	r.current = nil
	if err := w.close(); err != nil {
		r.log.WithError(err).Warn("failed to finalize utterance file")
		return
	}
	r.log.WithFields(logrus.Fields{
		"file":     path,
		"duration": w.duration(),
	}).Debug("utterance saved")
	if r.OnSaved != nil {
		r.OnSaved(path)
	}
}

// Discard удаляет файл отброшенной реплики
func (r *UtteranceRecorder) Discard() {
	if r.current == nil {
		return
	}
	w, path := r.current, r.path
	r.current = nil
	_ = w.close()
	_ = os.Remove(path)
}

// Close завершает незакоммиченную реплику
func (r *UtteranceRecorder) Close() error {
	if r.current == nil {
		return nil
	}
	w := r.current
	r.current = nil
	return w.close()
}
