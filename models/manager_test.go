package models

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withRegistry подменяет адрес загрузки Silero на тестовый сервер
func withRegistry(t *testing.T, url string) {
	t.Helper()
	saved := Registry
	Registry = []ModelInfo{saved[0]}
	Registry[0].DownloadURL = url
	t.Cleanup(func() { Registry = saved })
}

func TestDownloadFile(t *testing.T) {
	payload := []byte("onnx-model-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "sub", "model.onnx")
	var last float64
	err := DownloadFile(context.Background(), srv.Client(), srv.URL, dest, int64(len(payload)), func(p float64) { last = p })
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.Equal(t, 100.0, last)
	assert.NoFileExists(t, dest+".tmp")
}

func TestDownloadFile_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "model.onnx")
	err := DownloadFile(context.Background(), srv.Client(), srv.URL, dest, 0, nil)
	assert.ErrorContains(t, err, "bad status")
	assert.NoFileExists(t, dest)
	assert.NoFileExists(t, dest+".tmp")
}

func TestManager_EnsureModel(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write([]byte("silero"))
	}))
	defer srv.Close()
	withRegistry(t, srv.URL)

	m, err := NewManager(t.TempDir())
	require.NoError(t, err)
	assert.False(t, m.IsModelDownloaded(SileroVADID))

	var statuses []ModelStatus
	m.SetProgressCallback(func(id string, p float64, st ModelStatus, err error) {
		statuses = append(statuses, st)
	})

	path, err := m.EnsureModel(context.Background(), SileroVADID)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(m.ModelsDir(), "silero_vad.onnx"), path)
	assert.True(t, m.IsModelDownloaded(SileroVADID))
	assert.Contains(t, statuses, ModelStatusDownloaded)

	// повторный вызов не качает заново
	_, err = m.EnsureModel(context.Background(), SileroVADID)
	require.NoError(t, err)
	assert.Equal(t, 1, hits)

	states := m.States()
	require.Len(t, states, 1)
	assert.Equal(t, ModelStatusDownloaded, states[0].Status)

	require.NoError(t, m.DeleteModel(SileroVADID))
	assert.False(t, m.IsModelDownloaded(SileroVADID))
	assert.Error(t, m.DeleteModel(SileroVADID))
}

func TestManager_UnknownModel(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)
	_, err = m.EnsureModel(context.Background(), "whisper-large")
	assert.ErrorContains(t, err, "unknown model")
	assert.Empty(t, m.ModelPath("whisper-large"))
	assert.Error(t, m.CancelDownload(SileroVADID))
}
