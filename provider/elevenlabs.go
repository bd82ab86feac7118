package provider

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"voxstream/audio"
)

const (
	elevenLabsHost = "api.elevenlabs.io"
	elevenLabsRate = 16000
)

// ElevenLabs адаптер Scribe realtime с ручными коммитами
type ElevenLabs struct {
	mu    sync.Mutex
	turns turnCounter
	dedup finalDedup
}

func NewElevenLabs() *ElevenLabs { return &ElevenLabs{} }

func (p *ElevenLabs) ID() string   { return "elevenlabs" }
func (p *ElevenLabs) Name() string { return "ElevenLabs Realtime" }

func (p *ElevenLabs) ConnectionConfig(s Settings) ConnectionConfig {
	q := url.Values{}
	q.Set("model_id", "scribe_v2_realtime")
	q.Set("commit_strategy", "manual")
	q.Set("audio_format", "pcm_16000")
	q.Set("language_code", s.Language)

	headers := http.Header{}
	headers.Set("xi-api-key", s.APIKey)
	headers.Set("Host", elevenLabsHost)

	enc := AudioEncoding{
		Kind:       Base64JSON,
		TypeField:  "message_type",
		TypeValue:  "input_audio_chunk",
		AudioField: "audio_base_64",
		Extra:      map[string]any{"sample_rate": elevenLabsRate},
	}
	// 100 мс тишины держат сессию открытой
	silence, _ := enc.Encode(audio.Silence(100, elevenLabsRate))

	return ConnectionConfig{
		URL:         "wss://" + elevenLabsHost + "/v1/speech-to-text/realtime?" + q.Encode(),
		Headers:     headers,
		InitMessage: silence.Data,
		Encoding:    enc,
		CommitMessage: mustJSON(map[string]any{
			"message_type":  "input_audio_chunk",
			"audio_base_64": "",
			"sample_rate":   elevenLabsRate,
			"commit":        true,
		}),
		CloseMessage:      mustJSON(map[string]string{"message_type": "close"}),
		KeepaliveMessage:  silence.Data,
		KeepaliveInterval: 3 * time.Second,
		FlushTimeout:      700 * time.Millisecond,
		SampleRate:        elevenLabsRate,
	}
}

type elevenLabsEvent struct {
	MessageType string `json:"message_type"`
	Type        string `json:"type"`
	Text        string `json:"text"`
}

func (p *ElevenLabs) ParseEvent(raw []byte) []Event {
	var ev elevenLabsEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return []Event{Error("parse error: " + err.Error())}
	}
	msgType := ev.MessageType
	if msgType == "" {
		msgType = ev.Type
	}

	switch {
	case msgType == "session_started":
		return []Event{Status("session started")}

	case msgType == "partial_transcript":
		if ev.Text == "" {
			return Ignore()
		}
		p.mu.Lock()
		p.turns.partial()
		p.mu.Unlock()
		return []Event{Delta(ev.Text)}

	case msgType == "committed_transcript":
		if ev.Text == "" {
			return Ignore()
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if !p.dedup.accept(p.turns.key(), ev.Text) {
			return Ignore()
		}
		p.turns.final()
		return []Event{Final(ev.Text)}

	case strings.Contains(msgType, "error"), msgType == "":
		return []Event{Error(string(raw))}

	default:
		return []Event{Status(msgType)}
	}
}

func (p *ElevenLabs) Flush() []Event { return nil }
