package service

import "voxstream/audio"

// EventType тип события для внешних подписчиков (UI, API)
type EventType string

const (
	EventStatus          EventType = "status"
	EventTranscriptDelta EventType = "transcript_delta"
	EventTranscriptFinal EventType = "transcript_final"
	EventAudioInputLost  EventType = "audio_input_lost"
	EventSessionTimedOut EventType = "session_timed_out"
	EventAudioLevel      EventType = "audio_level"
)

// Значения Event.Status
const (
	StatusLive  = "live"
	StatusIdle  = "idle"
	StatusError = "error"
)

// Event исходящее событие сессии
type Event struct {
	Type EventType
	// Status live, idle или error для EventStatus
	Status  string
	Message string
	Text    string
	Levels  [audio.BarCount]float32
}

func statusEvent(status, message string) Event {
	return Event{Type: EventStatus, Status: status, Message: message}
}
