// Package api управляющий интерфейс демона: WebSocket, gRPC поток и /metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"voxstream/audio"
	"voxstream/internal/config"
	"voxstream/internal/service"
	"voxstream/models"
	"voxstream/provider"
	"voxstream/session"
)

const (
	validateTimeout = 15 * time.Second
	shutdownTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// client получатель ответов и рассылки
type client interface {
	send(Message) error
	close()
}

type Server struct {
	Config           *config.Config
	RecordingService *service.RecordingService
	ModelMgr         *models.Manager
	Gatherer         prometheus.Gatherer
	// ListDevices перечисляет устройства захвата; по умолчанию malgo
	ListDevices func() ([]audio.AudioDevice, error)
	// Dialer для validate_key; nil - обычный websocket.Dialer
	Dialer service.Dialer

	settingsMu sync.Mutex

	clients map[client]struct{}
	mu      sync.Mutex
}

func NewServer(cfg *config.Config, recSvc *service.RecordingService, modMgr *models.Manager) *Server {
	s := &Server{
		Config:           cfg,
		RecordingService: recSvc,
		ModelMgr:         modMgr,
		Gatherer:         prometheus.DefaultGatherer,
		ListDevices:      audio.ListDevices,
		clients:          make(map[client]struct{}),
	}
	s.setupCallbacks()
	return s
}

// Handler маршруты HTTP: /ws и /metrics
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Start поднимает HTTP и gRPC и блокируется до отмены ctx
func (s *Server) Start(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:              ":" + strconv.Itoa(s.Config.Server.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if addr := s.Config.Server.GRPCAddr; addr != "" {
		grpcSrv, lis, err := s.newGRPCServer(addr)
		if err != nil {
			logrus.WithError(err).WithField("addr", addr).Warn("failed to start gRPC listener")
		} else {
			go s.serveGRPC(grpcSrv, lis)
			defer grpcSrv.Stop()
		}
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.WithField("addr", httpSrv.Addr).Info("backend listening")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.closeClients()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) setupCallbacks() {
	if s.ModelMgr != nil {
		s.ModelMgr.SetProgressCallback(func(modelID string, progress float64, status models.ModelStatus, err error) {
			msg := Message{
				Type:     "model_progress",
				ModelID:  modelID,
				Progress: progress,
				Status:   string(status),
			}
			if err != nil {
				msg.Error = err.Error()
			}
			s.broadcast(msg)
		})
	}

	if s.RecordingService != nil {
		s.RecordingService.OnEvent = func(ev service.Event) {
			s.broadcast(eventMessage(ev))
			if ev.Type == service.EventStatus && ev.Status == service.StatusIdle {
				snap := s.RecordingService.Usage()
				s.broadcast(Message{Type: "usage", Usage: &snap})
			}
		}
	}
}

func (s *Server) addClient(c client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) removeClient(c client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		c.close()
		delete(s.clients, c)
	}
}

func (s *Server) broadcast(msg Message) {
	s.mu.Lock()
	clients := make([]client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		if err := c.send(msg); err != nil {
			logrus.WithError(err).Debug("broadcast write failed, dropping client")
			c.close()
			s.removeClient(c)
		}
	}
}

// wsClient соединение WebSocket; запись сериализована
type wsClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsClient) send(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsClient) close() { _ = c.conn.Close() }

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &wsClient{conn: conn}
	s.addClient(c)
	defer func() {
		s.removeClient(c)
		c.close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logrus.WithError(err).Debug("websocket read ended")
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			reply(c, Message{Type: "error", Data: "invalid message: " + err.Error()})
			continue
		}
		s.processMessage(c, msg)
	}
}

func reply(c client, msg Message) {
	if err := c.send(msg); err != nil {
		logrus.WithError(err).Debug("reply write failed")
	}
}

func (s *Server) processMessage(c client, msg Message) {
	switch msg.Type {
	case "get_devices":
		devices, err := s.ListDevices()
		if err != nil {
			reply(c, errorMessage(err))
			return
		}
		reply(c, Message{Type: "devices", Devices: devices})

	case "get_providers":
		reply(c, Message{Type: "providers", Providers: s.providers()})

	case "start_session":
		settings, err := s.sessionSettings(msg)
		if err != nil {
			reply(c, errorMessage(err))
			return
		}
		device := msg.Device
		if device == "" {
			device = s.Config.Audio.Device
		}
		info, err := s.RecordingService.Start(settings, device)
		if err != nil {
			reply(c, errorMessage(err))
			return
		}
		reply(c, Message{Type: "session_started", Session: &info})

	case "stop_session":
		if err := s.RecordingService.Stop(); err != nil {
			reply(c, errorMessage(err))
			return
		}
		reply(c, Message{Type: "session_stopped"})

	case "get_status":
		if info, ok := s.RecordingService.Active(); ok {
			reply(c, Message{Type: "session_status", Status: service.StatusLive, Session: &info})
			return
		}
		reply(c, Message{Type: "session_status", Status: service.StatusIdle})

	case "set_vad_mode":
		mode, err := session.ParseVADMode(msg.VADMode)
		if err != nil {
			reply(c, errorMessage(err))
			return
		}
		s.settingsMu.Lock()
		s.Config.Session.VADMode = mode.String()
		s.settingsMu.Unlock()
		if err := s.RecordingService.SetMode(mode); err != nil && !errors.Is(err, service.ErrNoSession) {
			reply(c, errorMessage(err))
			return
		}
		reply(c, Message{Type: "vad_mode", VADMode: mode.String()})

	case "get_usage":
		snap := s.RecordingService.Usage()
		reply(c, Message{Type: "usage", Usage: &snap})

	case "validate_key":
		settings, err := s.sessionSettings(msg)
		if err != nil {
			reply(c, errorMessage(err))
			return
		}
		go s.validateKey(c, settings)

	case "get_models":
		if s.ModelMgr == nil {
			reply(c, errorMessage(errors.New("model manager unavailable")))
			return
		}
		reply(c, Message{Type: "models_list", Models: s.ModelMgr.States()})

	case "download_model":
		if s.ModelMgr == nil || msg.ModelID == "" {
			reply(c, Message{Type: "error", Data: "modelId is required"})
			return
		}
		modelID := msg.ModelID
		go func() {
			if _, err := s.ModelMgr.EnsureModel(context.Background(), modelID); err != nil {
				logrus.WithError(err).WithField("model", modelID).Warn("model download failed")
			}
		}()
		reply(c, Message{Type: "download_started", ModelID: modelID})

	case "cancel_download":
		if s.ModelMgr == nil || msg.ModelID == "" {
			reply(c, Message{Type: "error", Data: "modelId is required"})
			return
		}
		if err := s.ModelMgr.CancelDownload(msg.ModelID); err != nil {
			reply(c, errorMessage(err))
			return
		}
		reply(c, Message{Type: "download_cancelled", ModelID: msg.ModelID})

	case "delete_model":
		if s.ModelMgr == nil || msg.ModelID == "" {
			reply(c, Message{Type: "error", Data: "modelId is required"})
			return
		}
		if err := s.ModelMgr.DeleteModel(msg.ModelID); err != nil {
			reply(c, errorMessage(err))
			return
		}
		reply(c, Message{Type: "model_deleted", ModelID: msg.ModelID})
		reply(c, Message{Type: "models_list", Models: s.ModelMgr.States()})

	default:
		reply(c, Message{Type: "error", Data: fmt.Sprintf("unknown message type %q", msg.Type)})
	}
}

// sessionSettings снимок настроек с переопределениями из сообщения
func (s *Server) sessionSettings(msg Message) (config.SessionSettings, error) {
	s.settingsMu.Lock()
	settings := s.Config.Session
	keys := make(map[string]string, len(settings.APIKeys)+1)
	for id, key := range settings.APIKeys {
		keys[id] = key
	}
	s.settingsMu.Unlock()
	settings.APIKeys = keys

	if msg.Provider != "" {
		settings.Provider = msg.Provider
	}
	if msg.Model != "" {
		settings.Model = msg.Model
	}
	if msg.TranscriptionModel != "" {
		settings.TranscriptionModel = msg.TranscriptionModel
	}
	if msg.Language != "" {
		settings.Language = msg.Language
	}
	if msg.VADMode != "" {
		settings.VADMode = msg.VADMode
	}
	if msg.APIKey != "" {
		settings.APIKeys[strings.ToLower(settings.Provider)] = msg.APIKey
	}
	if err := settings.Validate(); err != nil {
		return config.SessionSettings{}, err
	}
	return settings, nil
}

func (s *Server) providers() []ProviderInfo {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()
	ids := provider.IDs()
	out := make([]ProviderInfo, 0, len(ids))
	for _, id := range ids {
		out = append(out, ProviderInfo{
			ID:     id,
			Name:   provider.New(id).Name(),
			HasKey: s.Config.Session.APIKeys[id] != "",
			KeyEnv: provider.APIKeyEnv(id),
		})
	}
	return out
}

func (s *Server) validateKey(c client, settings config.SessionSettings) {
	ctx, cancel := context.WithTimeout(context.Background(), validateTimeout)
	defer cancel()

	adapter := provider.New(settings.Provider)
	err := service.ValidateKey(ctx, s.Dialer, adapter, settings.ProviderSettings())
	msg := Message{Type: "key_validation", Provider: adapter.ID(), Valid: err == nil}
	if err != nil {
		msg.Error = err.Error()
		logrus.WithError(err).WithField("provider", adapter.ID()).Info("api key validation failed")
	}
	reply(c, msg)
}
