package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxstream/internal/config"
)

func TestSetup_LevelAndFormat(t *testing.T) {
	logger := logrus.New()
	closer, err := Setup(logger, config.LogConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	defer closer.Close()

	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
}

func TestSetup_RotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voxstream.log")
	logger := logrus.New()
	closer, err := Setup(logger, config.LogConfig{Level: "info", Format: "text", File: path, MaxSizeMB: 1})
	require.NoError(t, err)

	logger.WithField("provider", "openai").Info("session started")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "session started")
	assert.Contains(t, string(data), "provider=openai")
}

func TestSetup_BadLevel(t *testing.T) {
	_, err := Setup(logrus.New(), config.LogConfig{Level: "chatty"})
	assert.Error(t, err)
}
