package api

import (
	"voxstream/audio"
	"voxstream/internal/service"
	"voxstream/internal/usage"
	"voxstream/models"
)

// Message сообщение управляющего канала (WebSocket и gRPC)
type Message struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`

	// Start Session Parameters
	Provider           string `json:"provider,omitempty"`
	Model              string `json:"model,omitempty"`
	TranscriptionModel string `json:"transcriptionModel,omitempty"`
	Language           string `json:"language,omitempty"`
	VADMode            string `json:"vadMode,omitempty"`
	Device             string `json:"device,omitempty"`
	APIKey             string `json:"apiKey,omitempty"`

	// Responses
	Session *service.SessionInfo `json:"session,omitempty"`
	Status  string               `json:"status,omitempty"`
	Text    string               `json:"text,omitempty"`
	Valid   bool                 `json:"valid,omitempty"`
	Error   string               `json:"error,omitempty"`

	// Audio levels
	Levels []float32 `json:"levels,omitempty"`

	// Devices
	Devices   []audio.AudioDevice `json:"devices,omitempty"`
	Providers []ProviderInfo      `json:"providers,omitempty"`

	// Models
	Models   []models.ModelState `json:"models,omitempty"`
	ModelID  string              `json:"modelId,omitempty"`
	Progress float64             `json:"progress,omitempty"`

	Usage *usage.Snapshot `json:"usage,omitempty"`
}

// ProviderInfo провайдер и наличие ключа для него
type ProviderInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	HasKey bool   `json:"hasKey"`
	KeyEnv string `json:"keyEnv"`
}

func errorMessage(err error) Message {
	return Message{Type: "error", Data: err.Error()}
}

// eventMessage переводит событие сессии в сообщение для клиентов
func eventMessage(ev service.Event) Message {
	msg := Message{
		Type:   string(ev.Type),
		Status: ev.Status,
		Data:   ev.Message,
		Text:   ev.Text,
	}
	if ev.Type == service.EventAudioLevel {
		levels := ev.Levels
		msg.Levels = levels[:]
	}
	return msg
}
