// Package config загружает настройки демона из YAML, флагов и окружения.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"voxstream/provider"
	"voxstream/session"
)

const (
	minInactivitySecs = 5
	maxInactivitySecs = 300
	minSessionMinutes = 1
	maxSessionMinutes = 120
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Session   SessionSettings `yaml:"session"`
	VAD       VADConfig       `yaml:"vad"`
	Recording RecordingConfig `yaml:"recording"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig управляющие интерфейсы (WebSocket, gRPC, метрики)
type ServerConfig struct {
	Port     int    `yaml:"port"`
	GRPCAddr string `yaml:"grpc_addr"`
}

type AudioConfig struct {
	// Device имя устройства захвата, пусто - устройство по умолчанию
	Device string `yaml:"device"`
}

// SessionSettings снимок пользовательских настроек, читается при старте сессии
type SessionSettings struct {
	Provider              string            `yaml:"provider"`
	Model                 string            `yaml:"model"`
	TranscriptionModel    string            `yaml:"transcription_model"`
	Language              string            `yaml:"language"`
	VADMode               string            `yaml:"vad_mode"`
	InactivityTimeoutSecs int               `yaml:"inactivity_timeout_secs"`
	MaxSessionMinutes     int               `yaml:"max_session_minutes"`
	APIKeys               map[string]string `yaml:"api_keys"`
}

// VADConfig выбор классификатора речи
type VADConfig struct {
	// Classifier energy или silero
	Classifier string `yaml:"classifier"`
	ModelPath  string `yaml:"model_path"`
	ModelsDir  string `yaml:"models_dir"`
}

// RecordingConfig сохранение отправленных реплик; пустой Dir отключает
type RecordingConfig struct {
	Dir string `yaml:"dir"`
	// Format mp3 или wav
	Format string `yaml:"format"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default конфигурация по умолчанию
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8080,
			GRPCAddr: defaultGRPCAddr(),
		},
		Session: SessionSettings{
			Provider:              provider.DefaultID,
			Model:                 "gpt-4o-realtime-preview",
			TranscriptionModel:    "gpt-4o-mini-transcribe",
			Language:              "en",
			VADMode:               session.ModeStrict.String(),
			InactivityTimeoutSecs: 60,
			MaxSessionMinutes:     15,
		},
		VAD: VADConfig{
			Classifier: "energy",
			ModelsDir:  defaultModelsDir(),
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

func defaultModelsDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "voxstream", "models")
	}
	return "models"
}

// Load читает файл поверх значений по умолчанию. Пустой путь - только умолчания.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.readFile(path); err != nil {
		return nil, err
	}
	cfg.applyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Parse разбирает аргументы командной строки: -config читается первым,
// остальные флаги переопределяют файл
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("voxstream", flag.ContinueOnError)
	path := fs.String("config", "", "Path to YAML config")
	port := fs.Int("port", 0, "HTTP/WebSocket port")
	grpcAddr := fs.String("grpc-addr", "", "gRPC control address (unix socket path or named pipe)")
	providerID := fs.String("provider", "", "Transcription provider: "+strings.Join(provider.IDs(), ", "))
	device := fs.String("device", "", "Capture device name")
	vad := fs.String("vad", "", "VAD mode: strict, lenient, off")
	logLevel := fs.String("log-level", "", "Log level")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := cfg.readFile(*path); err != nil {
		return nil, err
	}
	cfg.applyEnv(os.LookupEnv)

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Server.Port = *port
		case "grpc-addr":
			cfg.Server.GRPCAddr = *grpcAddr
		case "provider":
			cfg.Session.Provider = *providerID
		case "device":
			cfg.Audio.Device = *device
		case "vad":
			cfg.Session.VADMode = *vad
		case "log-level":
			cfg.Log.Level = *logLevel
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnv подставляет ключи провайдеров из окружения, если они не заданы в файле
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	for _, id := range provider.IDs() {
		if c.Session.APIKeys[id] != "" {
			continue
		}
		if v, ok := lookup(provider.APIKeyEnv(id)); ok && v != "" {
			if c.Session.APIKeys == nil {
				c.Session.APIKeys = make(map[string]string)
			}
			c.Session.APIKeys[id] = v
		}
	}
}

// Validate проверяет конфигурацию целиком
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	switch c.VAD.Classifier {
	case "energy", "silero":
	default:
		return fmt.Errorf("vad classifier must be energy or silero, got %q", c.VAD.Classifier)
	}
	switch c.Recording.Format {
	case "", session.FormatMP3, session.FormatWAV:
	default:
		return fmt.Errorf("recording format must be mp3 or wav, got %q", c.Recording.Format)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log config: %w", err)
	}
	return nil
}

func (s *SessionSettings) Validate() error {
	if !provider.Known(s.Provider) {
		return fmt.Errorf("unknown provider %q", s.Provider)
	}
	if _, err := session.ParseVADMode(s.VADMode); err != nil {
		return err
	}
	if s.InactivityTimeoutSecs < 0 {
		return fmt.Errorf("inactivity_timeout_secs must not be negative, got %d", s.InactivityTimeoutSecs)
	}
	if s.MaxSessionMinutes < 0 {
		return fmt.Errorf("max_session_minutes must not be negative, got %d", s.MaxSessionMinutes)
	}
	return nil
}

func (l *LogConfig) Validate() error {
	if _, err := logrus.ParseLevel(l.Level); err != nil {
		return err
	}
	switch l.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log format must be text or json, got %q", l.Format)
	}
	return nil
}

// Mode режим сегментации; ошибки отсеяны Validate
func (s SessionSettings) Mode() session.VADMode {
	m, err := session.ParseVADMode(s.VADMode)
	if err != nil {
		return session.ModeStrict
	}
	return m
}

// InactivityTimeout таймаут тишины, ограниченный 5..300 с
func (s SessionSettings) InactivityTimeout() time.Duration {
	return time.Duration(clamp(s.InactivityTimeoutSecs, minInactivitySecs, maxInactivitySecs)) * time.Second
}

// MaxSessionDuration предельная длительность сессии, ограниченная 1..120 мин
func (s SessionSettings) MaxSessionDuration() time.Duration {
	return time.Duration(clamp(s.MaxSessionMinutes, minSessionMinutes, maxSessionMinutes)) * time.Minute
}

// APIKey ключ выбранного провайдера
func (s SessionSettings) APIKey() string {
	return s.APIKeys[strings.ToLower(s.Provider)]
}

// ProviderSettings снимок для адаптера
func (s SessionSettings) ProviderSettings() provider.Settings {
	return provider.Settings{
		APIKey:             s.APIKey(),
		Model:              s.Model,
		TranscriptionModel: s.TranscriptionModel,
		Language:           s.Language,
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
