package audio

import (
	"encoding/binary"
	"math"
)

// BytesPerSample - PCM16 моно
const BytesPerSample = 2

// Float32ToPCM16 конвертирует float32 [-1, 1] в little-endian PCM16
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

// Float32ToInt16 конвертирует float32 в int16 с ограничением диапазона
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = floatToInt16(s)
	}
	return out
}

// PCM16ToFloat32 обратная конвертация
func PCM16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / BytesPerSample
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	return out
}

// PCM16ToInt16 разворачивает байты в сэмплы
func PCM16ToInt16(pcm []byte) []int16 {
	n := len(pcm) / BytesPerSample
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// DurationMs длительность PCM16 буфера в миллисекундах
func DurationMs(pcmBytes int, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(pcmBytes/BytesPerSample) / float64(sampleRate) * 1000.0
}

// BytesForMs размер PCM16 буфера заданной длительности (не меньше одного сэмпла)
func BytesForMs(ms int, sampleRate int) int {
	n := sampleRate * ms / 1000 * BytesPerSample
	if n < BytesPerSample {
		n = BytesPerSample
	}
	return n
}

// Silence возвращает PCM16 тишину заданной длительности
func Silence(ms int, sampleRate int) []byte {
	return make([]byte, BytesForMs(ms, sampleRate))
}

// Peak максимальная амплитуда PCM16 буфера
func Peak(pcm []byte) int {
	peak := 0
	for i := 0; i+1 < len(pcm); i += 2 {
		v := int(int16(binary.LittleEndian.Uint16(pcm[i:])))
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return peak
}

// DownmixF32LE сводит interleaved float32 кадры в моно (среднее каналов)
// и берёт каждый decimate-й кадр
func DownmixF32LE(in []byte, channels, decimate int) []float32 {
	if channels <= 0 {
		channels = 1
	}
	if decimate <= 0 {
		decimate = 1
	}
	frames := len(in) / (4 * channels)
	out := make([]float32, 0, frames/decimate+1)
	for f := 0; f < frames; f += decimate {
		var sum float32
		base := f * channels * 4
		for ch := 0; ch < channels; ch++ {
			sum += math.Float32frombits(binary.LittleEndian.Uint32(in[base+ch*4:]))
		}
		out = append(out, sum/float32(channels))
	}
	return out
}

func floatToInt16(s float32) int16 {
	v := s * 32767.0
	if v > 32767 {
		v = 32767
	} else if v < -32768 {
		v = -32768
	}
	return int16(v)
}

// Float32LEBytes кодирует один float32 сэмпл в little-endian
func Float32LEBytes(v float32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
	return b
}
