package provider

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

const openAIHost = "api.openai.com"

// OpenAI адаптер OpenAI Realtime (режим транскрипции)
type OpenAI struct {
	mu    sync.Mutex
	dedup finalDedup
}

func NewOpenAI() *OpenAI { return &OpenAI{} }

func (p *OpenAI) ID() string   { return "openai" }
func (p *OpenAI) Name() string { return "OpenAI Realtime" }

func (p *OpenAI) ConnectionConfig(s Settings) ConnectionConfig {
	init := map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"type": "realtime",
			"audio": map[string]any{
				"input": map[string]any{
					"format":          map[string]any{"type": "audio/pcm", "rate": 24000},
					"noise_reduction": map[string]any{"type": "near_field"},
					"transcription": map[string]any{
						"model":    s.TranscriptionModel,
						"language": s.Language,
					},
					"turn_detection": map[string]any{
						"type":                "server_vad",
						"threshold":           0.5,
						"prefix_padding_ms":   300,
						"silence_duration_ms": 500,
						"create_response":     false,
					},
				},
			},
		},
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+s.APIKey)
	headers.Set("Host", openAIHost)

	return ConnectionConfig{
		URL:         "wss://" + openAIHost + "/v1/realtime?model=" + url.QueryEscape(s.Model),
		Headers:     headers,
		InitMessage: mustJSON(init),
		Encoding: AudioEncoding{
			Kind:       Base64JSON,
			TypeField:  "type",
			TypeValue:  "input_audio_buffer.append",
			AudioField: "audio",
		},
		CommitMessage: mustJSON(map[string]string{"type": "input_audio_buffer.commit"}),
		FlushTimeout:  700 * time.Millisecond,
		SampleRate:    24000,
	}
}

type openAIEvent struct {
	Type       string  `json:"type"`
	Delta      *string `json:"delta"`
	Transcript *string `json:"transcript"`
	ItemID     string  `json:"item_id"`
	Error      *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RateLimits []struct {
		Name      string  `json:"name"`
		Remaining float64 `json:"remaining"`
		Limit     float64 `json:"limit"`
	} `json:"rate_limits"`
}

func (p *OpenAI) ParseEvent(raw []byte) []Event {
	var ev openAIEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return []Event{Error(fmt.Sprintf("parse error: %v", err))}
	}

	switch ev.Type {
	case "conversation.item.input_audio_transcription.delta":
		if ev.Delta == nil {
			return Ignore()
		}
		return []Event{Delta(*ev.Delta)}

	case "conversation.item.input_audio_transcription.completed":
		var events []Event
		if ev.Transcript != nil {
			text := strings.TrimSpace(*ev.Transcript)
			p.mu.Lock()
			ok := p.dedup.accept(ev.ItemID, text)
			p.mu.Unlock()
			if ok {
				events = append(events, Final(text))
			}
		}
		// элемент удаляется, чтобы контекст разговора не рос
		if ev.ItemID != "" {
			events = append(events, Control(string(mustJSON(map[string]string{
				"type":    "conversation.item.delete",
				"item_id": ev.ItemID,
			}))))
		}
		if len(events) == 0 {
			return Ignore()
		}
		return events

	case "error":
		if ev.Error != nil && ev.Error.Code == "input_audio_buffer_commit_empty" {
			return Ignore()
		}
		msg := "OpenAI error"
		if ev.Error != nil && ev.Error.Message != "" {
			msg = ev.Error.Message
		}
		return []Event{Error(msg)}

	case "rate_limits.updated":
		for _, l := range ev.RateLimits {
			if l.Name == "tokens" || l.Name == "input_tokens" {
				return []Event{Status(fmt.Sprintf("rate_limit %s: %v/%v remaining", l.Name, l.Remaining, l.Limit))}
			}
		}
		return Ignore()

	case "":
		return []Event{Status("event missing type: " + string(raw))}

	default:
		return []Event{Status(ev.Type)}
	}
}

// Flush ничего не копит: финальный текст приходит целиком
func (p *OpenAI) Flush() []Event { return nil }
