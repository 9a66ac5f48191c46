package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Hotkey      HotkeyConfig    `yaml:"hotkey"`
	Audio       AudioConfig     `yaml:"audio"`
	Engine      EngineConfig    `yaml:"engine"`
	Inject      InjectConfig    `yaml:"inject"`
	Status      StatusConfig    `yaml:"status"`
	History     HistoryConfig   `yaml:"history"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type HotkeyConfig struct {
	Key            string `yaml:"key"`
	PollIntervalMS int    `yaml:"poll_interval_ms"`
	MinCaptureMS   int    `yaml:"min_capture_ms"`
}

type AudioConfig struct {
	Device          string `yaml:"device"`
	Command         string `yaml:"command"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	FrameDurationMS int    `yaml:"frame_duration_ms"`
}

type EngineConfig struct {
	Mode      string `yaml:"mode"` // mock, exec
	Command   string `yaml:"command"`
	ModelPath string `yaml:"model_path"`
	Language  string `yaml:"language"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type InjectConfig struct {
	PasteDelayMS     int  `yaml:"paste_delay_ms"`
	RestoreClipboard bool `yaml:"restore_clipboard"`
}

type StatusConfig struct {
	Publish    bool `yaml:"publish"`
	BufferSize int  `yaml:"buffer_size"`
}

type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxEntries    int    `yaml:"max_entries"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

func Default() Config {
	return Config{
		RuntimeName: "voxkey",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Hotkey: HotkeyConfig{
			Key:            "alt",
			PollIntervalMS: 10,
			MinCaptureMS:   100,
		},
		Audio: AudioConfig{
			SampleRate:      16000,
			Channels:        1,
			FrameDurationMS: 20,
		},
		Engine: EngineConfig{
			Mode:     "mock",
			Language: "en",
		},
		Inject: InjectConfig{
			PasteDelayMS: 50,
		},
		Status: StatusConfig{
			Publish:    true,
			BufferSize: 16,
		},
		History: HistoryConfig{
			Path:          "./data/voxkey-history.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxEntries:    10000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "VOXKEY_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VOXKEY_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOXKEY_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOXKEY_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOXKEY_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOXKEY_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOXKEY_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VOXKEY_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "VOXKEY_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOXKEY_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VOXKEY_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOXKEY_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOXKEY_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOXKEY_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOXKEY_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOXKEY_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Hotkey.Key, "VOXKEY_HOTKEY_KEY")
	overrideInt(&cfg.Hotkey.PollIntervalMS, "VOXKEY_HOTKEY_POLL_INTERVAL_MS")
	overrideInt(&cfg.Hotkey.MinCaptureMS, "VOXKEY_HOTKEY_MIN_CAPTURE_MS")
	overrideString(&cfg.Audio.Device, "VOXKEY_AUDIO_DEVICE")
	overrideString(&cfg.Audio.Command, "VOXKEY_AUDIO_COMMAND")
	overrideInt(&cfg.Audio.SampleRate, "VOXKEY_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "VOXKEY_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.FrameDurationMS, "VOXKEY_AUDIO_FRAME_DURATION_MS")
	overrideString(&cfg.Engine.Mode, "VOXKEY_ENGINE_MODE")
	overrideString(&cfg.Engine.Command, "VOXKEY_ENGINE_COMMAND")
	overrideString(&cfg.Engine.ModelPath, "VOXKEY_ENGINE_MODEL_PATH")
	overrideString(&cfg.Engine.Language, "VOXKEY_ENGINE_LANGUAGE")
	overrideInt(&cfg.Engine.TimeoutMS, "VOXKEY_ENGINE_TIMEOUT_MS")
	overrideInt(&cfg.Inject.PasteDelayMS, "VOXKEY_INJECT_PASTE_DELAY_MS")
	overrideBool(&cfg.Inject.RestoreClipboard, "VOXKEY_INJECT_RESTORE_CLIPBOARD")
	overrideBool(&cfg.Status.Publish, "VOXKEY_STATUS_PUBLISH")
	overrideInt(&cfg.Status.BufferSize, "VOXKEY_STATUS_BUFFER_SIZE")
	overrideString(&cfg.History.Path, "VOXKEY_HISTORY_PATH")
	overrideString(&cfg.History.RetentionMode, "VOXKEY_HISTORY_RETENTION_MODE")
	overrideInt(&cfg.History.RetentionDays, "VOXKEY_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxEntries, "VOXKEY_HISTORY_MAX_ENTRIES")
	overrideBool(&cfg.History.VacuumOnStart, "VOXKEY_HISTORY_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Status.Publish {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Hotkey.Key == "" {
		return errors.New("hotkey.key must not be empty")
	}
	if cfg.Hotkey.PollIntervalMS <= 0 {
		return errors.New("hotkey.poll_interval_ms must be positive")
	}
	if cfg.Hotkey.MinCaptureMS < 0 {
		return errors.New("hotkey.min_capture_ms must be >= 0")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels != 1 {
		return errors.New("audio.channels must be 1 (mono capture)")
	}
	if cfg.Audio.FrameDurationMS <= 0 {
		return errors.New("audio.frame_duration_ms must be positive")
	}
	switch cfg.Engine.Mode {
	case "mock", "exec":
	default:
		return errors.New("engine.mode must be one of mock|exec")
	}
	if cfg.Engine.Mode == "exec" && cfg.Engine.Command == "" {
		return errors.New("engine.command must be set when mode=exec")
	}
	if cfg.Engine.TimeoutMS < 0 {
		return errors.New("engine.timeout_ms must be >= 0")
	}
	if cfg.Inject.PasteDelayMS < 0 {
		return errors.New("inject.paste_delay_ms must be >= 0")
	}
	if cfg.Status.BufferSize <= 0 {
		return errors.New("status.buffer_size must be positive")
	}
	if cfg.History.Path == "" {
		return errors.New("history.path must not be empty")
	}
	switch cfg.History.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("history.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	return nil
}
