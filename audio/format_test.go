package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectFormat(t *testing.T) {
	cases := []struct {
		name    string
		formats []nativeFormat
		target  int
		want    StreamFormat
	}{
		{
			name:    "mono at target",
			formats: []nativeFormat{{Channels: 2, SampleRate: 24000}, {Channels: 1, SampleRate: 24000}},
			target:  24000,
			want:    StreamFormat{SampleRate: 24000, Channels: 1, Decimation: 1},
		},
		{
			name:    "stereo at target is downmixed",
			formats: []nativeFormat{{Channels: 2, SampleRate: 16000}},
			target:  16000,
			want:    StreamFormat{SampleRate: 16000, Channels: 2, Decimation: 1},
		},
		{
			name:    "fallback to 48k with decimation",
			formats: []nativeFormat{{Channels: 2, SampleRate: 48000}, {Channels: 2, SampleRate: 44100}},
			target:  24000,
			want:    StreamFormat{SampleRate: 48000, Channels: 2, Decimation: 2},
		},
		{
			name:    "48k to 16k decimates by 3",
			formats: []nativeFormat{{Channels: 1, SampleRate: 48000}},
			target:  16000,
			want:    StreamFormat{SampleRate: 48000, Channels: 1, Decimation: 3},
		},
		{
			name:    "any rate format",
			formats: []nativeFormat{{Channels: 0, SampleRate: 0}},
			target:  24000,
			want:    StreamFormat{SampleRate: 24000, Channels: 1, Decimation: 1},
		},
		{
			name:    "device default",
			formats: []nativeFormat{{Channels: 2, SampleRate: 44100}},
			target:  24000,
			want:    StreamFormat{SampleRate: 0, Channels: 1, Decimation: 1},
		},
		{
			name:   "no formats reported",
			target: 24000,
			want:   StreamFormat{SampleRate: 0, Channels: 1, Decimation: 1},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, selectFormat(tc.formats, tc.target))
		})
	}
}

func TestDecimationFor(t *testing.T) {
	assert.Equal(t, 2, decimationFor(48000, 24000))
	assert.Equal(t, 1, decimationFor(16000, 24000))
	assert.Equal(t, 1, decimationFor(48000, 0))
	assert.Equal(t, 24000, StreamFormat{SampleRate: 48000, Decimation: 2}.EffectiveRate())
}
