package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel   string          `json:"log_level" yaml:"log_level"`
	API        APIConfig       `json:"api" yaml:"api"`
	Storage    StorageConfig   `json:"storage" yaml:"storage"`
	Ingest     IngestConfig    `json:"ingest" yaml:"ingest"`
	Thresholds ThresholdConfig `json:"thresholds" yaml:"thresholds"`
	Monitor    MonitorConfig   `json:"monitor" yaml:"monitor"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

type IngestConfig struct {
	ChannelBuffer int         `json:"channel_buffer" yaml:"channel_buffer"`
	MQTT          MQTTConfig  `json:"mqtt" yaml:"mqtt"`
	Kafka         KafkaConfig `json:"kafka" yaml:"kafka"`
}

type MQTTConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	BrokerURL      string `json:"broker_url" yaml:"broker_url"`
	ClientID       string `json:"client_id" yaml:"client_id"`
	TelemetryTopic string `json:"telemetry_topic" yaml:"telemetry_topic"`
	ScanTopic      string `json:"scan_topic" yaml:"scan_topic"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

// ThresholdConfig is the alerting rule table. Each bound is evaluated
// independently against one measured quantity.
type ThresholdConfig struct {
	SoundMax     float64 `json:"sound_max" yaml:"sound_max"`
	TempHigh     float64 `json:"temp_high" yaml:"temp_high"`
	TempLow      float64 `json:"temp_low" yaml:"temp_low"`
	HumidityHigh float64 `json:"humidity_high" yaml:"humidity_high"`
	HumidityLow  float64 `json:"humidity_low" yaml:"humidity_low"`
	COMax        float64 `json:"co_max" yaml:"co_max"`
}

type MonitorConfig struct {
	OfflineAfter time.Duration `json:"offline_after" yaml:"offline_after"`
	StatsWindow  time.Duration `json:"stats_window" yaml:"stats_window"`
	ChartHours   int           `json:"chart_hours" yaml:"chart_hours"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		API:      APIConfig{Enabled: true, Addr: ":5000"},
		Storage:  StorageConfig{Driver: "sqlite", DSN: "file:classroom.db?_pragma=busy_timeout(5000)"},
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			MQTT: MQTTConfig{
				Enabled:        false,
				ClientID:       "classmon",
				TelemetryTopic: "classroom/+/telemetry",
				ScanTopic:      "classroom/+/scan",
			},
			Kafka: KafkaConfig{Enabled: false},
		},
		Thresholds: ThresholdConfig{
			SoundMax:     80,
			TempHigh:     28,
			TempLow:      18,
			HumidityHigh: 70,
			HumidityLow:  30,
			COMax:        10,
		},
		Monitor: MonitorConfig{
			OfflineAfter: 2 * time.Minute,
			StatsWindow:  1 * time.Hour,
			ChartHours:   24,
		},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 10000
	}
	if cfg.Ingest.MQTT.ClientID == "" {
		cfg.Ingest.MQTT.ClientID = "classmon"
	}
	if cfg.Monitor.OfflineAfter <= 0 {
		cfg.Monitor.OfflineAfter = 2 * time.Minute
	}
	if cfg.Monitor.StatsWindow <= 0 {
		cfg.Monitor.StatsWindow = 1 * time.Hour
	}
	if cfg.Monitor.ChartHours <= 0 {
		cfg.Monitor.ChartHours = 24
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	switch strings.ToLower(cfg.Storage.Driver) {
	case "sqlite", "postgres", "postgresql", "memory":
	default:
		return fmt.Errorf("unsupported storage.driver: %q", cfg.Storage.Driver)
	}
	if cfg.Ingest.MQTT.Enabled {
		if cfg.Ingest.MQTT.BrokerURL == "" || cfg.Ingest.MQTT.TelemetryTopic == "" {
			return errors.New("ingest.mqtt requires broker_url and telemetry_topic")
		}
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Thresholds.SoundMax <= 0 {
		return errors.New("thresholds.sound_max must be > 0")
	}
	if cfg.Thresholds.COMax <= 0 {
		return errors.New("thresholds.co_max must be > 0")
	}
	if cfg.Thresholds.TempHigh <= cfg.Thresholds.TempLow {
		return errors.New("thresholds.temp_high must be above temp_low")
	}
	if cfg.Thresholds.HumidityHigh <= cfg.Thresholds.HumidityLow {
		return errors.New("thresholds.humidity_high must be above humidity_low")
	}
	return nil
}

// Manager holds the live configuration and keeps it in sync with the
// file it was loaded from.
type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := Validate(cfg); err != nil {
		return err
	}
	if err := Save(m.path, cfg); err != nil {
		return err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
