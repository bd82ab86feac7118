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

const deepgramHost = "api.deepgram.com"

// Deepgram адаптер Deepgram Listen. Окончательные сегменты копятся
// до speech_final, UtteranceEnd или локального Flush. Новую реплику
// открывают промежуточный текст и SpeechStarted.
type Deepgram struct {
	mu       sync.Mutex
	segments []string
	turns    turnCounter
	dedup    finalDedup
}

func NewDeepgram() *Deepgram { return &Deepgram{} }

func (p *Deepgram) ID() string   { return "deepgram" }
func (p *Deepgram) Name() string { return "Deepgram" }

func (p *Deepgram) ConnectionConfig(s Settings) ConnectionConfig {
	q := url.Values{}
	q.Set("encoding", "linear16")
	q.Set("sample_rate", "16000")
	q.Set("channels", "1")
	q.Set("model", "nova-3")
	q.Set("language", s.Language)
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	q.Set("endpointing", "300")
	q.Set("utterance_end_ms", "1000")
	q.Set("smart_format", "true")
	q.Set("vad_events", "true")

	headers := http.Header{}
	headers.Set("Authorization", "Token "+s.APIKey)
	headers.Set("Host", deepgramHost)

	return ConnectionConfig{
		URL:               "wss://" + deepgramHost + "/v1/listen?" + q.Encode(),
		Headers:           headers,
		Encoding:          AudioEncoding{Kind: RawBinary},
		CommitMessage:     mustJSON(map[string]string{"type": "Finalize"}),
		CloseMessage:      mustJSON(map[string]string{"type": "CloseStream"}),
		KeepaliveMessage:  mustJSON(map[string]string{"type": "KeepAlive"}),
		KeepaliveInterval: 5 * time.Second,
		MinChunk:          100 * time.Millisecond,
		FlushTimeout:      1000 * time.Millisecond,
		SampleRate:        16000,
	}
}

type deepgramEvent struct {
	Type    string `json:"type"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal     bool `json:"is_final"`
	SpeechFinal bool `json:"speech_final"`
}

func (p *Deepgram) ParseEvent(raw []byte) []Event {
	var ev deepgramEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return []Event{Error(fmt.Sprintf("parse error: %v", err))}
	}

	switch ev.Type {
	case "Results":
		transcript := ""
		if len(ev.Channel.Alternatives) > 0 {
			transcript = ev.Channel.Alternatives[0].Transcript
		}

		p.mu.Lock()
		defer p.mu.Unlock()

		if !ev.IsFinal {
			if transcript == "" {
				return Ignore()
			}
			p.turns.partial()
			preview := transcript
			if len(p.segments) > 0 {
				preview = strings.Join(p.segments, " ") + " " + transcript
			}
			return []Event{Delta(preview)}
		}

		// окончательный сегмент не открывает новую реплику: повтор после
		// Finalize приходит без промежуточного текста и отсекается dedup
		if transcript != "" {
			p.segments = append(p.segments, transcript)
		}
		if !ev.SpeechFinal {
			return Ignore()
		}
		if events := p.flushLocked(); len(events) > 0 {
			return events
		}
		return Ignore()

	case "Metadata":
		return []Event{Status("metadata received")}

	case "UtteranceEnd":
		p.mu.Lock()
		defer p.mu.Unlock()
		return append([]Event{Status("utterance end")}, p.flushLocked()...)

	case "SpeechStarted":
		p.mu.Lock()
		p.turns.partial()
		p.mu.Unlock()
		return []Event{Status("speech started")}

	case "":
		return []Event{Status("unknown event: " + string(raw))}

	default:
		return []Event{Status(ev.Type)}
	}
}

func (p *Deepgram) Flush() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushLocked()
}

func (p *Deepgram) flushLocked() []Event {
	if len(p.segments) == 0 {
		return nil
	}
	full := strings.Join(p.segments, " ")
	p.segments = p.segments[:0]
	if strings.TrimSpace(full) == "" || !p.dedup.accept(p.turns.key(), full) {
		return nil
	}
	p.turns.final()
	return []Event{Final(full)}
}
