package session

import (
	"fmt"
	"strings"
)

// VADMode режим детектора речи
type VADMode int

const (
	// ModeStrict агрессивный детектор, короткий hangover
	ModeStrict VADMode = iota
	// ModeLenient чувствительный детектор, длинный hangover
	ModeLenient
	// ModeOff детектор выключен, всё считается речью
	ModeOff
)

func (m VADMode) String() string {
	switch m {
	case ModeLenient:
		return "lenient"
	case ModeOff:
		return "off"
	default:
		return "strict"
	}
}

// ParseVADMode разбирает строковое имя режима
func ParseVADMode(s string) (VADMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return ModeStrict, nil
	case "lenient":
		return ModeLenient, nil
	case "off":
		return ModeOff, nil
	default:
		return ModeStrict, fmt.Errorf("unknown vad mode %q", s)
	}
}

// TimingProfile неизменяемая таблица таймингов сегментации для режима
type TimingProfile struct {
	HangoverMs     float64
	PrerollMs      float64
	MinTurnMs      float64
	StopSilenceMs  float64
	PostRollMs     float64
	Aggressiveness Aggressiveness
	// Passthrough - детектор выключен
	Passthrough bool
}

var profiles = map[VADMode]TimingProfile{
	ModeStrict: {
		HangoverMs:     480,
		PrerollMs:      220,
		MinTurnMs:      35,
		StopSilenceMs:  80,
		PostRollMs:     80,
		Aggressiveness: Aggressive,
	},
	ModeLenient: {
		HangoverMs:     700,
		PrerollMs:      300,
		MinTurnMs:      10,
		StopSilenceMs:  60,
		PostRollMs:     80,
		Aggressiveness: Quality,
	},
	ModeOff: {
		HangoverMs:     700,
		PrerollMs:      300,
		Aggressiveness: LowBitrate,
		Passthrough:    true,
	},
}

// ProfileFor возвращает профиль для режима
func ProfileFor(mode VADMode) TimingProfile {
	if p, ok := profiles[mode]; ok {
		return p
	}
	return profiles[ModeStrict]
}
