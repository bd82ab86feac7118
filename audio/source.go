package audio

import "errors"

var (
	// ErrDeviceNotFound устройство с указанным именем не найдено
	ErrDeviceNotFound = errors.New("audio device not found")
	// ErrDeviceLost устройство пропало во время записи (отключено, сменилось по умолчанию)
	ErrDeviceLost = errors.New("audio input lost")
)

// DefaultSampleRate частота отправки по умолчанию
const DefaultSampleRate = 24000

// RawQueueSize ёмкость канала между аудио колбэком и потоком обработки
const RawQueueSize = 128

// Source источник моно сэмплов для потока обработки.
// Data закрывается после Stop или по окончании данных.
type Source interface {
	Data() <-chan []float32
	// SampleRate эффективная частота сэмплов в Data (после децимации)
	SampleRate() int
	// Lost сигнализирует о потере устройства
	Lost() <-chan error
	Stop() error
}
