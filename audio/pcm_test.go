package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloat32ToPCM16_Clamps(t *testing.T) {
	pcm := Float32ToPCM16([]float32{0, 1, -1, 2, -2, 0.5})
	samples := PCM16ToInt16(pcm)
	assert.Equal(t, []int16{0, 32767, -32767, 32767, -32768, 16383}, samples)
}

func TestDurationAndSilence(t *testing.T) {
	assert.InDelta(t, 20.0, DurationMs(960, 24000), 1e-9)
	assert.Len(t, Silence(100, 16000), 3200)
	assert.Equal(t, 2, BytesForMs(0, 16000))
	assert.Equal(t, 0.0, DurationMs(100, 0))
}

func TestDownmixF32LE(t *testing.T) {
	// 4 стерео кадра: (1,0) (0,1) (1,1) (-1,1)
	frames := []float32{1, 0, 0, 1, 1, 1, -1, 1}
	raw := make([]byte, 0, len(frames)*4)
	for _, f := range frames {
		raw = append(raw, Float32LEBytes(f)...)
	}

	mono := DownmixF32LE(raw, 2, 1)
	require.Len(t, mono, 4)
	assert.Equal(t, []float32{0.5, 0.5, 1, 0}, mono)

	decimated := DownmixF32LE(raw, 2, 2)
	assert.Equal(t, []float32{0.5, 1}, decimated)
}

func TestPeak(t *testing.T) {
	pcm := Float32ToPCM16([]float32{0.1, -0.5, 0.25})
	assert.Equal(t, 16383, Peak(pcm))
}
