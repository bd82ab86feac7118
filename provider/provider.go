// Package provider переводит протоколы сервисов распознавания речи
// в единый словарь событий.
package provider

import (
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
)

// ErrMissingAPIKey ключ API не задан
var ErrMissingAPIKey = errors.New("api key is not configured")

// EventKind тип события провайдера
type EventKind int

const (
	// EventDelta промежуточный текст, может измениться
	EventDelta EventKind = iota
	// EventFinal окончательный текст реплики
	EventFinal
	// EventSendControl управляющее сообщение, которое нужно отправить обратно в сокет
	EventSendControl
	// EventError ошибка провайдера
	EventError
	// EventStatus информационное сообщение
	EventStatus
	// EventIgnore сообщение без последствий
	EventIgnore
)

func (k EventKind) String() string {
	switch k {
	case EventDelta:
		return "delta"
	case EventFinal:
		return "final"
	case EventSendControl:
		return "control"
	case EventError:
		return "error"
	case EventStatus:
		return "status"
	default:
		return "ignore"
	}
}

// Event единое событие провайдера. Для EventSendControl Text - JSON сообщение.
type Event struct {
	Kind EventKind
	Text string
}

func Delta(text string) Event { return Event{Kind: EventDelta, Text: text} }
func Final(text string) Event { return Event{Kind: EventFinal, Text: text} }
func Control(msg string) Event { return Event{Kind: EventSendControl, Text: msg} }
func Error(text string) Event { return Event{Kind: EventError, Text: text} }
func Status(text string) Event { return Event{Kind: EventStatus, Text: text} }
func Ignore() []Event { return []Event{{Kind: EventIgnore}} }

// EncodingKind способ передачи аудио
type EncodingKind int

const (
	// RawBinary PCM в бинарных кадрах
	RawBinary EncodingKind = iota
	// Base64JSON PCM в base64 внутри JSON конверта
	Base64JSON
)

// AudioEncoding схема упаковки аудио для провайдера
type AudioEncoding struct {
	Kind       EncodingKind
	TypeField  string
	TypeValue  string
	AudioField string
	// Extra постоянные поля каждого аудио сообщения
	Extra map[string]any
}

// Frame кадр WebSocket
type Frame struct {
	Binary bool
	Data   []byte
}

// Encode упаковывает PCM блок
func (e AudioEncoding) Encode(pcm []byte) (Frame, error) {
	if e.Kind == RawBinary {
		return Frame{Binary: true, Data: pcm}, nil
	}
	msg := make(map[string]any, len(e.Extra)+2)
	for k, v := range e.Extra {
		msg[k] = v
	}
	msg[e.TypeField] = e.TypeValue
	msg[e.AudioField] = base64.StdEncoding.EncodeToString(pcm)
	data, err := json.Marshal(msg)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Data: data}, nil
}

// Settings снимок пользовательских настроек на момент подключения
type Settings struct {
	APIKey             string
	Model              string
	TranscriptionModel string
	Language           string
}

// ConnectionConfig контракт подключения к провайдеру.
// Пустые сообщения (nil) означают "не отправлять".
type ConnectionConfig struct {
	URL     string
	Headers http.Header

	InitMessage   json.RawMessage
	Encoding      AudioEncoding
	CommitMessage json.RawMessage
	CloseMessage  json.RawMessage

	KeepaliveMessage  json.RawMessage
	KeepaliveInterval time.Duration

	// MinChunk минимальная длительность аудио сообщения, 0 - без батчинга
	MinChunk time.Duration
	// PreCommitSilence тишина перед коммитом
	PreCommitSilence time.Duration
	// FlushTimeout через сколько после коммита принудительно вызвать Flush
	FlushTimeout time.Duration
	SampleRate   int
}

// Adapter переводчик протокола одного провайдера.
// Экземпляр хранит состояние одной сессии (накопленные сегменты, дедупликация).
type Adapter interface {
	// ID короткий идентификатор провайдера (openai, deepgram, ...)
	ID() string
	// Name человекочитаемое имя
	Name() string
	ConnectionConfig(s Settings) ConnectionConfig
	// ParseEvent переводит входящее сообщение в события; никогда не паникует
	ParseEvent(raw []byte) []Event
	// Flush возвращает накопленный текст как Final
	Flush() []Event
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
