package models

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// ProgressCallback прогресс загрузки модели
type ProgressCallback func(modelID string, progress float64, status ModelStatus, err error)

// Manager локальный каталог моделей
type Manager struct {
	modelsDir string
	client    *http.Client

	mu         sync.RWMutex
	downloads  map[string]context.CancelFunc
	onProgress ProgressCallback
}

// NewManager создаёт каталог моделей в modelsDir
func NewManager(modelsDir string) (*Manager, error) {
	if err := os.MkdirAll(modelsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create models directory: %w", err)
	}
	return &Manager{
		modelsDir: modelsDir,
		client:    &http.Client{},
		downloads: make(map[string]context.CancelFunc),
	}, nil
}

// SetProgressCallback устанавливает callback для прогресса
func (m *Manager) SetProgressCallback(cb ProgressCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onProgress = cb
}

func (m *Manager) ModelsDir() string { return m.modelsDir }

// ModelPath путь к файлу модели, пусто для неизвестной
func (m *Manager) ModelPath(modelID string) string {
	info := GetModelByID(modelID)
	if info == nil {
		return ""
	}
	return filepath.Join(m.modelsDir, info.FileName)
}

// IsModelDownloaded true если файл модели на месте
func (m *Manager) IsModelDownloaded(modelID string) bool {
	path := m.ModelPath(modelID)
	if path == "" {
		return false
	}
	st, err := os.Stat(path)
	return err == nil && st.Size() > 0
}

// States состояние всех моделей реестра
func (m *Manager) States() []ModelState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make([]ModelState, len(Registry))
	for i, info := range Registry {
		state := ModelState{ModelInfo: info, Status: ModelStatusNotDownloaded}
		switch {
		case m.downloads[info.ID] != nil:
			state.Status = ModelStatusDownloading
		case m.IsModelDownloaded(info.ID):
			state.Status = ModelStatusDownloaded
			state.Path = m.ModelPath(info.ID)
		}
		states[i] = state
	}
	return states
}

// EnsureModel скачивает модель, если её нет, и возвращает путь
func (m *Manager) EnsureModel(ctx context.Context, modelID string) (string, error) {
	info := GetModelByID(modelID)
	if info == nil {
		return "", fmt.Errorf("unknown model: %s", modelID)
	}
	path := m.ModelPath(modelID)
	if m.IsModelDownloaded(modelID) {
		return path, nil
	}

	m.mu.Lock()
	if _, exists := m.downloads[modelID]; exists {
		m.mu.Unlock()
		return "", fmt.Errorf("model %s is already downloading", modelID)
	}
	ctx, cancel := context.WithCancel(ctx)
	m.downloads[modelID] = cancel
	m.mu.Unlock()

	defer func() {
		cancel()
		m.mu.Lock()
		delete(m.downloads, modelID)
		m.mu.Unlock()
	}()

	log := logrus.WithField("model", modelID)
	log.WithField("url", info.DownloadURL).Info("downloading model")
	err := DownloadFile(ctx, m.client, info.DownloadURL, path, info.SizeBytes, func(p float64) {
		m.notifyProgress(modelID, p, ModelStatusDownloading, nil)
	})
	if err != nil {
		if ctx.Err() == context.Canceled {
			log.Info("model download cancelled")
			m.notifyProgress(modelID, 0, ModelStatusNotDownloaded, nil)
		} else {
			log.WithError(err).Error("model download failed")
			m.notifyProgress(modelID, 0, ModelStatusError, err)
		}
		return "", err
	}

	log.Info("model downloaded")
	m.notifyProgress(modelID, 100, ModelStatusDownloaded, nil)
	return path, nil
}

// CancelDownload отменяет загрузку модели
func (m *Manager) CancelDownload(modelID string) error {
	m.mu.RLock()
	cancel, exists := m.downloads[modelID]
	m.mu.RUnlock()
	if !exists {
		return fmt.Errorf("model %s is not downloading", modelID)
	}
	cancel()
	return nil
}

// DeleteModel удаляет файл модели
func (m *Manager) DeleteModel(modelID string) error {
	if !m.IsModelDownloaded(modelID) {
		return fmt.Errorf("model %s is not downloaded", modelID)
	}
	if err := os.Remove(m.ModelPath(modelID)); err != nil {
		return fmt.Errorf("failed to delete model: %w", err)
	}
	logrus.WithField("model", modelID).Info("model deleted")
	return nil
}

func (m *Manager) notifyProgress(modelID string, progress float64, status ModelStatus, err error) {
	m.mu.RLock()
	cb := m.onProgress
	m.mu.RUnlock()
	if cb != nil {
		cb(modelID, progress, status, err)
	}
}
