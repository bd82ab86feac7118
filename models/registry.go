// Package models управляет локальными моделями детектора речи
package models

// ModelType тип модели
type ModelType string

const (
	ModelTypeONNX ModelType = "onnx"
)

// EngineType назначение модели
type EngineType string

const (
	EngineTypeVAD EngineType = "vad" // Voice Activity Detection
)

// SileroVADID идентификатор модели Silero VAD
const SileroVADID = "silero-vad-v5"

// ModelInfo информация о модели
type ModelInfo struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Type        ModelType  `json:"type"`
	Engine      EngineType `json:"engine"`
	FileName    string     `json:"fileName"`
	Size        string     `json:"size"`
	SizeBytes   int64      `json:"sizeBytes"`
	Description string     `json:"description"`
	DownloadURL string     `json:"downloadUrl,omitempty"`
}

// ModelStatus статус модели на устройстве
type ModelStatus string

const (
	ModelStatusNotDownloaded ModelStatus = "not_downloaded"
	ModelStatusDownloading   ModelStatus = "downloading"
	ModelStatusDownloaded    ModelStatus = "downloaded"
	ModelStatusError         ModelStatus = "error"
)

// ModelState состояние модели
type ModelState struct {
	ModelInfo
	Status   ModelStatus `json:"status"`
	Progress float64     `json:"progress,omitempty"`
	Error    string      `json:"error,omitempty"`
	Path     string      `json:"path,omitempty"`
}

// Registry известные модели
var Registry = []ModelInfo{
	{
		ID:          SileroVADID,
		Name:        "Silero VAD v5",
		Type:        ModelTypeONNX,
		Engine:      EngineTypeVAD,
		FileName:    "silero_vad.onnx",
		Size:        "2.2 MB",
		SizeBytes:   2_327_524,
		Description: "Enterprise-grade Voice Activity Detector (Silero)",
		DownloadURL: "https://github.com/snakers4/silero-vad/raw/master/src/silero_vad/data/silero_vad.onnx",
	},
}

// GetModelByID возвращает модель по ID или nil
func GetModelByID(id string) *ModelInfo {
	for i := range Registry {
		if Registry[i].ID == id {
			return &Registry[i]
		}
	}
	return nil
}
