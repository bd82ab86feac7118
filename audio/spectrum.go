package audio

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	// SpectrumSize размер окна FFT
	SpectrumSize = 256
	// BarCount количество полос визуализатора
	BarCount = 50
)

// Spectrum считает сглаженные полосы спектра для визуализатора.
// Не потокобезопасен: используется только потоком обработки.
type Spectrum struct {
	fft      *fourier.FFT
	window   []float64
	ring     []float32
	frame    []float64
	coeffs   []complex128
	smoothed [BarCount]float32
}

// NewSpectrum создаёт анализатор спектра
func NewSpectrum() *Spectrum {
	window := make([]float64, SpectrumSize)
	for i := range window {
		// Окно Ханна
		window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(SpectrumSize-1)))
	}
	return &Spectrum{
		fft:    fourier.NewFFT(SpectrumSize),
		window: window,
		ring:   make([]float32, 0, SpectrumSize*2),
		frame:  make([]float64, SpectrumSize),
	}
}

// Push добавляет сэмплы и пересчитывает полосы, если накоплено окно.
// Возвращает false пока данных меньше SpectrumSize.
func (s *Spectrum) Push(samples []float32) ([BarCount]float32, bool) {
	s.ring = append(s.ring, samples...)
	if len(s.ring) > SpectrumSize*2 {
		s.ring = append(s.ring[:0], s.ring[len(s.ring)-SpectrumSize*2:]...)
	}
	if len(s.ring) < SpectrumSize {
		return s.smoothed, false
	}

	start := len(s.ring) - SpectrumSize
	for i := 0; i < SpectrumSize; i++ {
		s.frame[i] = float64(s.ring[start+i]) * s.window[i]
	}
	s.coeffs = s.fft.Coefficients(s.coeffs, s.frame)

	// Полосы из нижней половины спектра, без DC
	maxBin := SpectrumSize / 2
	for i := 0; i < BarCount; i++ {
		idx := 1 + int(float64(i)/float64(BarCount)*float64(maxBin-1))
		if idx > maxBin-1 {
			idx = maxBin - 1
		}
		mag := float32(cmplx.Abs(s.coeffs[idx]))
		normalized := mag * 0.4
		if normalized > 1 {
			normalized = 1
		}
		s.smoothed[i] = s.smoothed[i]*0.6 + normalized*0.4
	}
	return s.smoothed, true
}

// Reset обнуляет полосы и буфер
func (s *Spectrum) Reset() {
	s.ring = s.ring[:0]
	s.smoothed = [BarCount]float32{}
}
