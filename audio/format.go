package audio

import "github.com/gen2brain/malgo"

// fallbackRate частота, к которой откатываемся если targetRate не поддерживается
const fallbackRate = 48000

// nativeFormat нативный формат устройства (частота 0 - любая)
type nativeFormat struct {
	Channels   int
	SampleRate int
}

func nativeFormats(info *malgo.DeviceInfo) []nativeFormat {
	if info == nil {
		return nil
	}
	count := int(info.FormatCount)
	if count > len(info.Formats) {
		count = len(info.Formats)
	}
	out := make([]nativeFormat, 0, count)
	for _, f := range info.Formats[:count] {
		out = append(out, nativeFormat{Channels: int(f.Channels), SampleRate: int(f.SampleRate)})
	}
	return out
}

func chooseFormat(info *malgo.DeviceInfo, targetRate int) StreamFormat {
	name := "default"
	if info != nil {
		name = info.Name()
	}
	f := selectFormat(nativeFormats(info), targetRate)
	f.DeviceName = name
	return f
}

// selectFormat выбирает формат потока по приоритету:
// моно на targetRate, любой канал на targetRate, то же для 48 кГц с децимацией,
// иначе формат по умолчанию (SampleRate=0, уточняется после открытия).
func selectFormat(formats []nativeFormat, targetRate int) StreamFormat {
	if targetRate <= 0 {
		targetRate = DefaultSampleRate
	}
	if ch, ok := supports(formats, targetRate); ok {
		return StreamFormat{SampleRate: targetRate, Channels: ch, Decimation: 1}
	}
	if ch, ok := supports(formats, fallbackRate); ok {
		return StreamFormat{
			SampleRate: fallbackRate,
			Channels:   ch,
			Decimation: decimationFor(fallbackRate, targetRate),
		}
	}
	return StreamFormat{Channels: 1, Decimation: 1}
}

func supports(formats []nativeFormat, rate int) (int, bool) {
	for _, f := range formats {
		if (f.Channels == 1 || f.Channels == 0) && (f.SampleRate == rate || f.SampleRate == 0) {
			return 1, true
		}
	}
	for _, f := range formats {
		if f.SampleRate == rate || f.SampleRate == 0 {
			ch := f.Channels
			if ch <= 0 {
				ch = 1
			}
			return ch, true
		}
	}
	return 0, false
}

func decimationFor(rate, targetRate int) int {
	if targetRate <= 0 {
		return 1
	}
	d := rate / targetRate
	if d < 1 {
		d = 1
	}
	return d
}
