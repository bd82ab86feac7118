package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(n, rate int, freq float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func TestResampler_SplitMatchesSingleCall(t *testing.T) {
	cases := []struct {
		name    string
		in, out int
		split   int
	}{
		{"48k->24k", 48000, 24000, 777},
		{"48k->16k", 48000, 16000, 1001},
		{"44.1k->24k", 44100, 24000, 513},
		{"16k->24k upsample", 16000, 24000, 333},
		{"24k->16k", 24000, 16000, 480},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := sine(4800, tc.in, 440)

			whole := NewResampler(tc.in, tc.out).Process(input)

			r := NewResampler(tc.in, tc.out)
			first := r.Process(input[:tc.split])
			second := r.Process(input[tc.split:])
			split := append(first, second...)

			require.Len(t, split, len(whole))
			for i := range whole {
				assert.InDelta(t, whole[i], split[i], 1e-5, "sample %d", i)
			}
		})
	}
}

func TestResampler_ManySmallBlocks(t *testing.T) {
	input := sine(9600, 48000, 300)
	whole := NewResampler(48000, 16000).Process(input)

	r := NewResampler(48000, 16000)
	var pieces []float32
	for off := 0; off < len(input); off += 37 {
		end := off + 37
		if end > len(input) {
			end = len(input)
		}
		pieces = append(pieces, r.Process(input[off:end])...)
	}

	require.Len(t, pieces, len(whole))
	for i := range whole {
		assert.InDelta(t, whole[i], pieces[i], 1e-5)
	}
}

func TestResampler_OutputLength(t *testing.T) {
	r := NewResampler(48000, 24000)
	total := 0
	for i := 0; i < 50; i++ {
		total += len(r.Process(make([]float32, 960)))
	}
	// 50 блоков по 20 мс на 48 кГц -> ~1 секунда на 24 кГц
	assert.InDelta(t, 24000, total, 2)
}

func TestResampler_SameRateCopies(t *testing.T) {
	r := NewResampler(16000, 16000)
	in := []float32{0.1, 0.2, 0.3}
	out := r.Process(in)
	assert.Equal(t, in, out)
	out[0] = 1
	assert.Equal(t, float32(0.1), in[0])
}

func TestResampler_EmptyInput(t *testing.T) {
	r := NewResampler(48000, 16000)
	assert.Nil(t, r.Process(nil))
	assert.NotEmpty(t, r.Process(make([]float32, 96)))
}
