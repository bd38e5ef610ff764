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
	LogLevel      string `yaml:"log_level"`
	TraceExporter string `yaml:"trace_exporter"` // none, stdout, otlp
	OTLPEndpoint  string `yaml:"otlp_endpoint"`
	OTLPInsecure  bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Assets      AssetsConfig     `yaml:"assets"`
	Display     DisplayConfig    `yaml:"display"`
	Capture     CaptureConfig    `yaml:"capture"`
	STT         STTConfig        `yaml:"stt"`
}

// BusConfig controls the optional NATS event feed. With Embedded set the
// server runs in-process and accepts no network clients unless Port > 0.
type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	SubjectPrefix  string   `yaml:"subject_prefix"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type AssetsConfig struct {
	Directory        string   `yaml:"directory"`
	PhraseExtensions []string `yaml:"phrase_extensions"`
	GlyphExtension   string   `yaml:"glyph_extension"`
	Logo             string   `yaml:"logo"`
}

type DisplayConfig struct {
	Width               int `yaml:"width"`
	Height              int `yaml:"height"`
	DefaultFrameDelayMS int `yaml:"default_frame_delay_ms"`
	SpellIntervalMS     int `yaml:"spell_interval_ms"`
	QueueSize           int `yaml:"queue_size"`
}

type CaptureConfig struct {
	Command         string  `yaml:"command"`
	InputFormat     string  `yaml:"input_format"`
	InputDevice     string  `yaml:"input_device"`
	SampleRate      int     `yaml:"sample_rate"`
	Channels        int     `yaml:"channels"`
	CalibrateMS     int     `yaml:"calibrate_ms"`
	SilenceMS       int     `yaml:"silence_ms"`
	MinSpeechMS     int     `yaml:"min_speech_ms"`
	MaxPhraseMS     int     `yaml:"max_phrase_ms"`
	ListenTimeoutMS int     `yaml:"listen_timeout_ms"`
	EnergyThreshold float64 `yaml:"energy_threshold"`
}

type STTConfig struct {
	Mode           string   `yaml:"mode"` // mock, exec, openai
	Command        string   `yaml:"command"`
	ModelPath      string   `yaml:"model_path"`
	Language       string   `yaml:"language"`
	APIKey         string   `yaml:"api_key"`
	BaseURL        string   `yaml:"base_url"`
	Model          string   `yaml:"model"`
	TimeoutMS      int      `yaml:"timeout_ms"`
	MockPhrases    []string `yaml:"mock_phrases"`
	MockIntervalMS int      `yaml:"mock_interval_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-sign",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8090,
		},
		Telemetry: TelemetryConfig{
			LogLevel:      "info",
			TraceExporter: "none",
			OTLPInsecure:  true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			SubjectPrefix:  "sign",
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-sign-events.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxSessions:   1000,
		},
		Assets: AssetsConfig{
			Directory:        "SignMedia",
			PhraseExtensions: []string{".gif"},
			GlyphExtension:   ".jpg",
			Logo:             "signlang.png",
		},
		Display: DisplayConfig{
			Width:               470,
			Height:              325,
			DefaultFrameDelayMS: 100,
			SpellIntervalMS:     1000,
			QueueSize:           64,
		},
		Capture: CaptureConfig{
			Command:     "ffmpeg",
			InputFormat: "pulse",
			InputDevice: "default",
			SampleRate:  16000,
			Channels:    1,
			CalibrateMS: 500,
			SilenceMS:   800,
			MinSpeechMS: 250,
			MaxPhraseMS: 15000,
		},
		STT: STTConfig{
			Mode:           "mock",
			Model:          "whisper-1",
			TimeoutMS:      45000,
			MockPhrases:    []string{"hello", "thank you", "goodbye"},
			MockIntervalMS: 3000,
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
	overrideString(&cfg.RuntimeName, "LOQA_SIGN_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_SIGN_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_SIGN_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_SIGN_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_SIGN_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.TraceExporter, "LOQA_SIGN_TELEMETRY_TRACE_EXPORTER")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_SIGN_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_SIGN_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "LOQA_SIGN_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_SIGN_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_SIGN_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_SIGN_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_SIGN_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_SIGN_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_SIGN_BUS_TOKEN")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_SIGN_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Bus.SubjectPrefix, "LOQA_SIGN_BUS_SUBJECT_PREFIX")
	overrideString(&cfg.EventStore.Path, "LOQA_SIGN_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_SIGN_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_SIGN_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_SIGN_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_SIGN_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Assets.Directory, "LOQA_SIGN_ASSETS_DIRECTORY")
	overrideStringSlice(&cfg.Assets.PhraseExtensions, "LOQA_SIGN_ASSETS_PHRASE_EXTENSIONS")
	overrideString(&cfg.Assets.GlyphExtension, "LOQA_SIGN_ASSETS_GLYPH_EXTENSION")
	overrideString(&cfg.Assets.Logo, "LOQA_SIGN_ASSETS_LOGO")
	overrideInt(&cfg.Display.Width, "LOQA_SIGN_DISPLAY_WIDTH")
	overrideInt(&cfg.Display.Height, "LOQA_SIGN_DISPLAY_HEIGHT")
	overrideInt(&cfg.Display.DefaultFrameDelayMS, "LOQA_SIGN_DISPLAY_DEFAULT_FRAME_DELAY_MS")
	overrideInt(&cfg.Display.SpellIntervalMS, "LOQA_SIGN_DISPLAY_SPELL_INTERVAL_MS")
	overrideInt(&cfg.Display.QueueSize, "LOQA_SIGN_DISPLAY_QUEUE_SIZE")
	overrideString(&cfg.Capture.Command, "LOQA_SIGN_CAPTURE_COMMAND")
	overrideString(&cfg.Capture.InputFormat, "LOQA_SIGN_CAPTURE_INPUT_FORMAT")
	overrideString(&cfg.Capture.InputDevice, "LOQA_SIGN_CAPTURE_INPUT_DEVICE")
	overrideInt(&cfg.Capture.SampleRate, "LOQA_SIGN_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.Channels, "LOQA_SIGN_CAPTURE_CHANNELS")
	overrideInt(&cfg.Capture.CalibrateMS, "LOQA_SIGN_CAPTURE_CALIBRATE_MS")
	overrideInt(&cfg.Capture.SilenceMS, "LOQA_SIGN_CAPTURE_SILENCE_MS")
	overrideInt(&cfg.Capture.MinSpeechMS, "LOQA_SIGN_CAPTURE_MIN_SPEECH_MS")
	overrideInt(&cfg.Capture.MaxPhraseMS, "LOQA_SIGN_CAPTURE_MAX_PHRASE_MS")
	overrideInt(&cfg.Capture.ListenTimeoutMS, "LOQA_SIGN_CAPTURE_LISTEN_TIMEOUT_MS")
	overrideFloat(&cfg.Capture.EnergyThreshold, "LOQA_SIGN_CAPTURE_ENERGY_THRESHOLD")
	overrideString(&cfg.STT.Mode, "LOQA_SIGN_STT_MODE")
	overrideString(&cfg.STT.Command, "LOQA_SIGN_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "LOQA_SIGN_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "LOQA_SIGN_STT_LANGUAGE")
	overrideString(&cfg.STT.APIKey, "LOQA_SIGN_STT_API_KEY")
	overrideString(&cfg.STT.BaseURL, "LOQA_SIGN_STT_BASE_URL")
	overrideString(&cfg.STT.Model, "LOQA_SIGN_STT_MODEL")
	overrideInt(&cfg.STT.TimeoutMS, "LOQA_SIGN_STT_TIMEOUT_MS")
	overrideStringSlice(&cfg.STT.MockPhrases, "LOQA_SIGN_STT_MOCK_PHRASES")
	overrideInt(&cfg.STT.MockIntervalMS, "LOQA_SIGN_STT_MOCK_INTERVAL_MS")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
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
	switch cfg.Telemetry.TraceExporter {
	case "none", "stdout":
	case "otlp":
		if strings.TrimSpace(cfg.Telemetry.OTLPEndpoint) == "" {
			return errors.New("telemetry.otlp_endpoint must be set when trace_exporter=otlp")
		}
	default:
		return errors.New("telemetry.trace_exporter must be one of none|stdout|otlp")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port < 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 0 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Bus.SubjectPrefix == "" {
			return errors.New("bus.subject_prefix must not be empty")
		}
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral":
	case "session", "persistent":
		if cfg.EventStore.Path == "" {
			return errors.New("event_store.path must not be empty")
		}
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Assets.Directory == "" {
		return errors.New("assets.directory must not be empty")
	}
	if len(cfg.Assets.PhraseExtensions) == 0 {
		return errors.New("assets.phrase_extensions must not be empty")
	}
	for _, ext := range cfg.Assets.PhraseExtensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("assets.phrase_extensions entry %q must start with a dot", ext)
		}
	}
	if !strings.HasPrefix(cfg.Assets.GlyphExtension, ".") {
		return errors.New("assets.glyph_extension must start with a dot")
	}
	if cfg.Display.Width <= 0 || cfg.Display.Height <= 0 {
		return errors.New("display.width and display.height must be positive")
	}
	if cfg.Display.DefaultFrameDelayMS <= 0 {
		return errors.New("display.default_frame_delay_ms must be positive")
	}
	if cfg.Display.SpellIntervalMS <= 0 {
		return errors.New("display.spell_interval_ms must be positive")
	}
	switch cfg.STT.Mode {
	case "mock":
		if len(cfg.STT.MockPhrases) == 0 {
			return errors.New("stt.mock_phrases must not be empty when mode=mock")
		}
	case "exec":
		if cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
	case "openai":
		if cfg.STT.APIKey == "" {
			return errors.New("stt.api_key must be set when mode=openai")
		}
	default:
		return errors.New("stt.mode must be one of mock|exec|openai")
	}
	if cfg.STT.Mode != "mock" {
		if cfg.Capture.SampleRate <= 0 {
			return errors.New("capture.sample_rate must be positive")
		}
		if cfg.Capture.Channels <= 0 {
			return errors.New("capture.channels must be positive")
		}
		if cfg.Capture.Command == "" {
			return errors.New("capture.command must not be empty")
		}
	}
	return nil
}
