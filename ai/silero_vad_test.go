package ai

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxstream/session"
)

func sileroModelPath(t *testing.T) string {
	t.Helper()
	path := os.Getenv("VOXSTREAM_SILERO_MODEL")
	if path == "" {
		t.Skip("VOXSTREAM_SILERO_MODEL not set, skipping")
	}
	if _, err := os.Stat(path); err != nil {
		t.Skipf("silero model not found: %s", path)
	}
	return path
}

func TestSileroClassifier_Thresholds(t *testing.T) {
	c := &SileroClassifier{}
	c.SetAggressiveness(session.Quality)
	assert.Equal(t, float32(0.35), c.threshold)
	c.SetAggressiveness(session.VeryAggressive)
	assert.Equal(t, float32(0.7), c.threshold)
	c.SetAggressiveness(session.Aggressiveness(-1))
	assert.Equal(t, float32(0.35), c.threshold)
}

func TestSileroClassifier_MissingModel(t *testing.T) {
	_, err := NewSileroClassifier(SileroConfig{ModelPath: "/nonexistent/silero_vad.onnx"})
	assert.Error(t, err)
}

func TestSileroClassifier_Silence(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping model test in short mode")
	}
	c, err := NewSileroClassifier(SileroConfig{ModelPath: sileroModelPath(t)})
	require.NoError(t, err)
	defer c.Close()

	frame := make([]int16, session.VADFrameSamples)
	for i := 0; i < 50; i++ {
		speech, err := c.IsSpeech(frame)
		require.NoError(t, err)
		assert.False(t, speech)
	}
	assert.Less(t, c.LastProbability(), float32(0.3))

	c.Reset()
	assert.Zero(t, c.LastProbability())
}
