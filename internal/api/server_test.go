package api

import (
	"context"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"voxstream/audio"
	"voxstream/internal/config"
	"voxstream/internal/service"
	"voxstream/internal/usage"
)

// fakeOpenAI отвечает готовой репликой на первый коммит
func fakeOpenAI(t *testing.T) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		replied := false
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.TextMessage && !replied && strings.Contains(string(data), `"input_audio_buffer.commit"`) {
				replied = true
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"conversation.item.input_audio_transcription.completed","item_id":"item_1","transcript":"hello there"}`))
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type redirectDialer struct{ url string }

func (d redirectDialer) DialContext(ctx context.Context, _ string, h http.Header) (*websocket.Conn, *http.Response, error) {
	return websocket.DefaultDialer.DialContext(ctx, d.url, h)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func utterance() []float32 {
	const rate = 24000
	out := make([]float32, 300*rate/1000)
	for i := 0; i < 500*rate/1000; i++ {
		out = append(out, float32(0.5*math.Sin(2*math.Pi*300*float64(i)/rate)))
	}
	return append(out, make([]float32, 1200*rate/1000)...)
}

type testEnv struct {
	server   *Server
	http     *httptest.Server
	registry *prometheus.Registry
	usage    *usage.Recorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	provider := fakeOpenAI(t)

	cfg := config.Default()
	cfg.Session.APIKeys = map[string]string{"openai": "sk-test"}

	reg := prometheus.NewRegistry()
	rec := usage.NewRecorder(usage.NewMetrics(reg))
	dialer := redirectDialer{url: wsURL(provider)}

	recSvc := service.NewRecordingService(service.RecordingOptions{
		VAD:    cfg.VAD,
		Usage:  rec,
		Dialer: dialer,
		OpenSource: func(string, int) (audio.Source, error) {
			src := audio.NewSliceSource(utterance(), 24000, 20, false)
			src.Start()
			return src, nil
		},
		CloseGrace: 200 * time.Millisecond,
	})

	s := NewServer(cfg, recSvc, nil)
	s.Gatherer = reg
	s.Dialer = dialer
	s.ListDevices = func() ([]audio.AudioDevice, error) {
		return []audio.AudioDevice{{ID: "mic-1", Name: "Built-in Microphone", IsDefault: true}}, nil
	}

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{server: s, http: srv, registry: reg, usage: rec}
}

func dialWS(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(env.http)+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg Message) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

// readUntil пропускает сообщения до нужного типа (audio_level и т.п.)
func readUntil(t *testing.T, conn *websocket.Conn, typ string) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", typ)
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg.Type == typ {
			return msg
		}
	}
}

// readAll читает, пока не встретит каждый из типов; порядок не важен
func readAll(t *testing.T, conn *websocket.Conn, types ...string) map[string]Message {
	t.Helper()
	want := make(map[string]bool, len(types))
	for _, typ := range types {
		want[typ] = true
	}
	got := make(map[string]Message, len(types))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for len(got) < len(want) {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %v, got %d", types, len(got))
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		if _, seen := got[msg.Type]; want[msg.Type] && !seen {
			got[msg.Type] = msg
		}
	}
	return got
}

func TestWebSocket_DevicesAndProviders(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env)

	send(t, conn, Message{Type: "get_devices"})
	devices := readUntil(t, conn, "devices")
	require.Len(t, devices.Devices, 1)
	assert.Equal(t, "Built-in Microphone", devices.Devices[0].Name)

	send(t, conn, Message{Type: "get_providers"})
	providers := readUntil(t, conn, "providers")
	require.Len(t, providers.Providers, 4)
	for _, p := range providers.Providers {
		assert.Equal(t, p.ID == "openai", p.HasKey, p.ID)
		assert.NotEmpty(t, p.Name)
	}
}

func TestWebSocket_VADMode(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env)

	send(t, conn, Message{Type: "set_vad_mode", VADMode: "loose"})
	errMsg := readUntil(t, conn, "error")
	assert.Contains(t, errMsg.Data, "loose")

	send(t, conn, Message{Type: "set_vad_mode", VADMode: "lenient"})
	ack := readUntil(t, conn, "vad_mode")
	assert.Equal(t, "lenient", ack.VADMode)
	env.server.settingsMu.Lock()
	assert.Equal(t, "lenient", env.server.Config.Session.VADMode)
	env.server.settingsMu.Unlock()
}

func TestWebSocket_StartSessionWithoutKeyKeepsCapture(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env)

	send(t, conn, Message{Type: "start_session", Provider: "deepgram"})
	var started, failed bool
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for !started || !failed {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		switch {
		case msg.Type == "session_started":
			require.NotNil(t, msg.Session)
			assert.Equal(t, "deepgram", msg.Session.Provider)
			started = true
		case msg.Type == string(service.EventStatus) && msg.Status == service.StatusError:
			assert.Contains(t, msg.Data, "Missing API key")
			failed = true
		}
	}

	// источник конечный: сессия снимается, когда захват заканчивается
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.server.RecordingService.Wait(ctx))

	send(t, conn, Message{Type: "get_status"})
	status := readUntil(t, conn, "session_status")
	assert.Equal(t, service.StatusIdle, status.Status)

	send(t, conn, Message{Type: "start_session", Provider: "nope"})
	errMsg := readUntil(t, conn, "error")
	assert.Contains(t, errMsg.Data, "unknown provider")

	send(t, conn, Message{Type: "stop_session"})
	errMsg = readUntil(t, conn, "error")
	assert.Equal(t, service.ErrNoSession.Error(), errMsg.Data)
}

func TestWebSocket_SessionBroadcastsTranscript(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env)

	send(t, conn, Message{Type: "start_session"})
	got := readAll(t, conn, "session_started", "transcript_final")
	started := got["session_started"]
	require.NotNil(t, started.Session)
	assert.Equal(t, "openai", started.Session.Provider)
	assert.Equal(t, "hello there", got["transcript_final"].Text)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.server.RecordingService.Wait(ctx))

	snap := readUntil(t, conn, "usage")
	require.NotNil(t, snap.Usage)
	assert.EqualValues(t, 1, snap.Usage.Total.Finals)
}

func TestWebSocket_ValidateKey(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env)

	send(t, conn, Message{Type: "validate_key", Provider: "openai", APIKey: "sk-other"})
	res := readUntil(t, conn, "key_validation")
	assert.True(t, res.Valid)
	assert.Equal(t, "openai", res.Provider)
	assert.Empty(t, res.Error)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	sess := env.usage.StartSession("deepgram")
	sess.AddSent(3200, 100)

	resp, err := http.Get(env.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `voxstream_audio_bytes_sent_total{provider="deepgram"} 3200`)
}

func TestControlStream_StatusAndUsage(t *testing.T) {
	env := newTestEnv(t)

	dir, err := os.MkdirTemp("", "vxs")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	socket := filepath.Join(dir, "ctl.sock")

	grpcSrv, lis, err := env.server.newGRPCServer("unix:" + socket)
	require.NoError(t, err)
	go env.server.serveGRPC(grpcSrv, lis)
	t.Cleanup(grpcSrv.Stop)

	conn, err := grpc.NewClient("unix://"+socket,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := conn.NewStream(ctx, &_Control_serviceDesc.Streams[0], controlStreamMethod)
	require.NoError(t, err)

	recv := func(typ string) Message {
		for {
			var msg Message
			require.NoError(t, stream.RecvMsg(&msg))
			if msg.Type == typ {
				return msg
			}
		}
	}

	require.NoError(t, stream.SendMsg(&Message{Type: "get_status"}))
	st := recv("session_status")
	assert.Equal(t, service.StatusIdle, st.Status)
	assert.Nil(t, st.Session)

	require.NoError(t, stream.SendMsg(&Message{Type: "get_usage"}))
	u := recv("usage")
	require.NotNil(t, u.Usage)
	assert.Zero(t, u.Usage.Total.Commits)

	require.NoError(t, stream.SendMsg(&Message{Type: "bogus"}))
	e := recv("error")
	assert.Contains(t, e.Data, "bogus")
	require.NoError(t, stream.CloseSend())
}

func TestListenGRPC_PipeOnUnix(t *testing.T) {
	if filepath.Separator == '\\' {
		t.Skip("named pipes are available on windows")
	}
	_, err := listenGRPC(`\\.\pipe\voxstream-test`)
	assert.Error(t, err)
}
