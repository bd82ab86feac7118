package audio

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// AudioDevice представляет устройство ввода
type AudioDevice struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"isDefault"`
}

// StreamFormat выбранный формат аппаратного потока
type StreamFormat struct {
	DeviceName string
	SampleRate int // нативная частота устройства
	Channels   int
	Decimation int
}

// EffectiveRate частота после децимации
func (f StreamFormat) EffectiveRate() int {
	if f.Decimation <= 1 {
		return f.SampleRate
	}
	return f.SampleRate / f.Decimation
}

// Capture владеет одним аппаратным потоком микрофона на время сессии записи.
// Колбэк никогда не блокируется: при переполнении канала данные отбрасываются.
type Capture struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	format StreamFormat

	raw  chan []float32
	lost chan error

	stopping atomic.Bool
	dropped  atomic.Uint64
	stopOnce sync.Once
	log      *logrus.Entry
}

// ListDevices возвращает список устройств ввода
func ListDevices() ([]AudioDevice, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to init audio context: %w", err)
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate capture devices: %w", err)
	}

	devices := make([]AudioDevice, 0, len(infos))
	for _, info := range infos {
		devices = append(devices, AudioDevice{
			ID:        deviceIDToString(info.ID),
			Name:      info.Name(),
			IsDefault: info.IsDefault != 0,
		})
	}
	return devices, nil
}

// StartCapture открывает устройство (по имени или по умолчанию) и запускает поток.
// Формат выбирается в порядке: моно на targetRate, 48 кГц с децимацией, формат по умолчанию.
func StartCapture(deviceName string, targetRate int) (*Capture, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to init audio context: %w", err)
	}

	c := &Capture{
		ctx:  ctx,
		raw:  make(chan []float32, RawQueueSize),
		lost: make(chan error, 1),
		log:  logrus.WithField("component", "capture"),
	}

	if err := c.open(deviceName, targetRate); err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, err
	}
	return c, nil
}

func (c *Capture) open(deviceName string, targetRate int) error {
	info, err := c.findDevice(deviceName)
	if err != nil {
		return err
	}

	format := chooseFormat(info, targetRate)

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = uint32(format.Channels)
	cfg.SampleRate = uint32(format.SampleRate)
	cfg.Alsa.NoMMap = 1
	if info != nil {
		id := info.ID
		cfg.Capture.DeviceID = id.Pointer()
	}

	c.device, err = malgo.InitDevice(c.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: c.onData,
		Stop: c.onStop,
	})
	if err != nil {
		return fmt.Errorf("failed to init capture device: %w", err)
	}

	// При формате по умолчанию нативная частота известна только после InitDevice
	if format.SampleRate == 0 {
		format.SampleRate = int(c.device.SampleRate())
		format.Decimation = decimationFor(format.SampleRate, targetRate)
	}
	c.format = format

	if err := c.device.Start(); err != nil {
		c.device.Uninit()
		c.device = nil
		return fmt.Errorf("failed to start capture device: %w", err)
	}

	c.log.WithFields(logrus.Fields{
		"device":     format.DeviceName,
		"rate":       format.SampleRate,
		"channels":   format.Channels,
		"decimate":   format.Decimation,
		"effective":  format.EffectiveRate(),
		"targetRate": targetRate,
	}).Info("capture started")
	return nil
}

// findDevice ищет устройство по точному имени, затем по частичному совпадению.
// Пустое имя - устройство по умолчанию (nil если система его не сообщает).
func (c *Capture) findDevice(name string) (*malgo.DeviceInfo, error) {
	infos, err := c.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate capture devices: %w", err)
	}

	var match *malgo.DeviceInfo
	if name == "" {
		for i := range infos {
			if infos[i].IsDefault != 0 {
				match = &infos[i]
				break
			}
		}
		if match == nil {
			return nil, nil
		}
	} else {
		for i := range infos {
			if infos[i].Name() == name {
				match = &infos[i]
				break
			}
		}
		if match == nil {
			lower := strings.ToLower(name)
			for i := range infos {
				if strings.Contains(strings.ToLower(infos[i].Name()), lower) {
					match = &infos[i]
					break
				}
			}
		}
		if match == nil {
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, name)
		}
	}

	// Детальная информация с поддерживаемыми форматами
	full, err := c.ctx.DeviceInfo(malgo.Capture, match.ID, malgo.Shared)
	if err != nil {
		c.log.WithError(err).Warn("failed to query device formats, using enumeration info")
		return match, nil
	}
	return &full, nil
}

func (c *Capture) onData(_, input []byte, frameCount uint32) {
	if c.stopping.Load() {
		return
	}
	channels := c.format.Channels
	if channels <= 0 {
		channels = 1
	}
	if len(input) < int(frameCount)*channels*4 {
		return
	}
	samples := DownmixF32LE(input[:int(frameCount)*channels*4], channels, c.format.Decimation)

	select {
	case c.raw <- samples:
	default:
		if n := c.dropped.Inc(); n%100 == 1 {
			c.log.WithField("dropped", n).Warn("raw audio queue full, dropping frames")
		}
	}
}

// onStop вызывается miniaudio при остановке устройства.
// Если остановку не инициировали мы - устройство потеряно.
func (c *Capture) onStop() {
	if c.stopping.Load() {
		return
	}
	c.log.Warn("capture device stopped unexpectedly")
	select {
	case c.lost <- ErrDeviceLost:
	default:
	}
}

// Data канал моно сэмплов с частотой SampleRate()
func (c *Capture) Data() <-chan []float32 { return c.raw }

// Lost канал потери устройства
func (c *Capture) Lost() <-chan error { return c.lost }

// SampleRate эффективная частота после децимации
func (c *Capture) SampleRate() int { return c.format.EffectiveRate() }

// Format выбранный формат потока
func (c *Capture) Format() StreamFormat { return c.format }

// Dropped количество отброшенных колбэков
func (c *Capture) Dropped() uint64 { return c.dropped.Load() }

// Stop останавливает поток и закрывает канал данных. Повторный вызов безопасен.
func (c *Capture) Stop() error {
	c.stopOnce.Do(func() {
		c.stopping.Store(true)
		if c.device != nil {
			// Uninit дожидается завершения колбэка
			c.device.Uninit()
			c.device = nil
		}
		close(c.raw)
		if c.ctx != nil {
			_ = c.ctx.Uninit()
			c.ctx.Free()
			c.ctx = nil
		}
		c.log.WithField("dropped", c.dropped.Load()).Info("capture stopped")
	})
	return nil
}

func deviceIDToString(id malgo.DeviceID) string {
	var result strings.Builder
	for _, b := range id[:32] {
		if b == 0 {
			break
		}
		result.WriteByte(b)
	}
	return result.String()
}
