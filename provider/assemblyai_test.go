package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAssemblyAI_ConnectionConfig(t *testing.T) {
	cfg := NewAssemblyAI().ConnectionConfig(Settings{APIKey: "aai"})
	assert.Equal(t, "wss://streaming.assemblyai.com/v3/ws?sample_rate=24000&encoding=pcm_s16le", cfg.URL)
	assert.Equal(t, "aai", cfg.Headers.Get("Authorization"))
	assert.Equal(t, RawBinary, cfg.Encoding.Kind)
	assert.JSONEq(t, `{"type":"ForceEndpoint"}`, string(cfg.CommitMessage))
	assert.JSONEq(t, `{"type":"Terminate"}`, string(cfg.CloseMessage))
	assert.Equal(t, 120*time.Millisecond, cfg.PreCommitSilence)
	assert.Equal(t, 50*time.Millisecond, cfg.MinChunk)
	assert.Equal(t, 24000, cfg.SampleRate)
}

func TestAssemblyAI_Turns(t *testing.T) {
	p := NewAssemblyAI()

	assert.Equal(t, []Event{Status("session started: abc")}, p.ParseEvent([]byte(`{"type":"Begin","id":"abc"}`)))
	assert.Equal(t, Ignore(), p.ParseEvent([]byte(`{"type":"Turn","turn_order":0,"transcript":"","end_of_turn":false}`)))
	assert.Equal(t, []Event{Delta("hello")}, p.ParseEvent([]byte(`{"type":"Turn","turn_order":0,"transcript":"hello","end_of_turn":false}`)))
	assert.Equal(t, []Event{Final("Hello world.")}, p.ParseEvent([]byte(`{"type":"Turn","turn_order":0,"transcript":"Hello world.","end_of_turn":true}`)))

	// форматированный повтор того же turn_order
	assert.Equal(t, Ignore(), p.ParseEvent([]byte(`{"type":"Turn","turn_order":0,"transcript":"hello world","end_of_turn":true,"turn_is_formatted":true}`)))

	assert.Equal(t, []Event{Final("hello world")}, p.ParseEvent([]byte(`{"type":"Turn","turn_order":1,"transcript":"hello world","end_of_turn":true}`)))
	assert.Equal(t, []Event{Status("session terminated")}, p.ParseEvent([]byte(`{"type":"Termination"}`)))
}

func TestAssemblyAI_FlushPendingTurn(t *testing.T) {
	p := NewAssemblyAI()
	assert.Nil(t, p.Flush())

	p.ParseEvent([]byte(`{"type":"Turn","turn_order":3,"transcript":"almost done","end_of_turn":false}`))
	assert.Equal(t, []Event{Final("almost done")}, p.Flush())
	assert.Nil(t, p.Flush())

	// поздний end_of_turn той же реплики не повторяет текст
	assert.Equal(t, Ignore(), p.ParseEvent([]byte(`{"type":"Turn","turn_order":3,"transcript":"Almost done.","end_of_turn":true}`)))
}

func TestAssemblyAI_Errors(t *testing.T) {
	p := NewAssemblyAI()
	assert.Equal(t, []Event{Error("bad auth")}, p.ParseEvent([]byte(`{"error":"bad auth"}`)))
	events := p.ParseEvent([]byte(`{"foo":1}`))
	assert.Equal(t, []EventKind{EventStatus}, kinds(events))
}
