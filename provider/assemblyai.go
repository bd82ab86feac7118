package provider

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

const assemblyAIHost = "streaming.assemblyai.com"

// AssemblyAI адаптер Universal Streaming v3
type AssemblyAI struct {
	mu    sync.Mutex
	dedup finalDedup
	// последний промежуточный текст открытой реплики
	pending    string
	pendingKey string
}

func NewAssemblyAI() *AssemblyAI { return &AssemblyAI{} }

func (p *AssemblyAI) ID() string   { return "assemblyai" }
func (p *AssemblyAI) Name() string { return "AssemblyAI" }

func (p *AssemblyAI) ConnectionConfig(s Settings) ConnectionConfig {
	headers := http.Header{}
	headers.Set("Authorization", s.APIKey)
	headers.Set("Host", assemblyAIHost)

	return ConnectionConfig{
		URL:              "wss://" + assemblyAIHost + "/v3/ws?sample_rate=24000&encoding=pcm_s16le",
		Headers:          headers,
		Encoding:         AudioEncoding{Kind: RawBinary},
		CommitMessage:    mustJSON(map[string]string{"type": "ForceEndpoint"}),
		CloseMessage:     mustJSON(map[string]string{"type": "Terminate"}),
		MinChunk:         50 * time.Millisecond,
		PreCommitSilence: 120 * time.Millisecond,
		FlushTimeout:     1200 * time.Millisecond,
		SampleRate:       24000,
	}
}

type assemblyAIEvent struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	Transcript string `json:"transcript"`
	EndOfTurn  bool   `json:"end_of_turn"`
	TurnOrder  *int   `json:"turn_order"`
	Error      string `json:"error"`
}

func (p *AssemblyAI) ParseEvent(raw []byte) []Event {
	var ev assemblyAIEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return []Event{Error(fmt.Sprintf("parse error: %v", err))}
	}

	switch ev.Type {
	case "Turn":
		if ev.Transcript == "" {
			return Ignore()
		}
		key := ""
		if ev.TurnOrder != nil {
			key = strconv.Itoa(*ev.TurnOrder)
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if !ev.EndOfTurn {
			p.pending, p.pendingKey = ev.Transcript, key
			return []Event{Delta(ev.Transcript)}
		}
		p.pending = ""
		if !p.dedup.accept(key, ev.Transcript) {
			return Ignore()
		}
		return []Event{Final(ev.Transcript)}

	case "Begin":
		id := ev.ID
		if id == "" {
			id = "unknown"
		}
		return []Event{Status("session started: " + id)}

	case "Termination":
		return []Event{Status("session terminated")}

	case "Error":
		return []Event{Error(ev.Error)}

	case "":
		if ev.Error != "" {
			return []Event{Error(ev.Error)}
		}
		return []Event{Status("unknown event: " + string(raw))}

	default:
		return []Event{Status(ev.Type)}
	}
}

// Flush выдаёт последний промежуточный текст, если конец реплики так и не пришёл
func (p *AssemblyAI) Flush() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	text := strings.TrimSpace(p.pending)
	p.pending = ""
	if text == "" || !p.dedup.accept(p.pendingKey, text) {
		return nil
	}
	return []Event{Final(text)}
}
