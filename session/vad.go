package session

import "math"

const (
	// VADSampleRate частота побочного потока для детектора
	VADSampleRate = 16000
	// VADFrameMs длительность кадра детектора
	VADFrameMs = 20
	// VADFrameSamples сэмплов в кадре
	VADFrameSamples = VADSampleRate * VADFrameMs / 1000
	// StartTriggerFrames подряд идущих речевых кадров для старта реплики
	StartTriggerFrames = 2
)

// Aggressiveness агрессивность классификатора (0 - мягко, 3 - строго)
type Aggressiveness int

const (
	Quality Aggressiveness = iota
	LowBitrate
	Aggressive
	VeryAggressive
)

// Classifier классифицирует 20 мс кадры 16 кГц PCM16 как речь/тишину
type Classifier interface {
	SetAggressiveness(a Aggressiveness)
	IsSpeech(frame []int16) (bool, error)
}

// energyThresholds пороги RMS (нормированного к 1.0) по агрессивности
var energyThresholds = [...]float64{
	Quality:        0.008,
	LowBitrate:     0.012,
	Aggressive:     0.018,
	VeryAggressive: 0.026,
}

// EnergyClassifier детектор речи по RMS энергии кадра
type EnergyClassifier struct {
	threshold float64
}

// NewEnergyClassifier создаёт классификатор с агрессивностью Aggressive
func NewEnergyClassifier() *EnergyClassifier {
	c := &EnergyClassifier{}
	c.SetAggressiveness(Aggressive)
	return c
}

// SetAggressiveness меняет порог
func (c *EnergyClassifier) SetAggressiveness(a Aggressiveness) {
	if a < Quality {
		a = Quality
	}
	if a > VeryAggressive {
		a = VeryAggressive
	}
	c.threshold = energyThresholds[a]
}

// IsSpeech true если RMS кадра выше порога
func (c *EnergyClassifier) IsSpeech(frame []int16) (bool, error) {
	return frameEnergy(frame) >= c.threshold, nil
}

// frameEnergy вычисляет RMS энергию кадра
func frameEnergy(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(frame)))
}
