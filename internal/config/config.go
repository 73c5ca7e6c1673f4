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
	LogLevel         string  `yaml:"log_level"`
	TraceExporter    string  `yaml:"trace_exporter"`
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
	OTLPEndpoint     string  `yaml:"otlp_endpoint"`
	OTLPInsecure     bool    `yaml:"otlp_insecure"`
	PrometheusBind   string  `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string            `yaml:"runtime_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	EventStore  EventStoreConfig  `yaml:"event_store"`
	STT         STTConfig         `yaml:"stt"`
	LLM         LLMConfig         `yaml:"llm"`
	TTS         TTSConfig         `yaml:"tts"`
	Chat        ChatConfig        `yaml:"chat"`
	Voice       VoiceConfig       `yaml:"voice"`
	Commands    CommandsConfig    `yaml:"commands"`
	Detection   DetectionConfig   `yaml:"detection"`
	Preferences PreferencesConfig `yaml:"preferences"`
	Presence    PresenceConfig    `yaml:"presence"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	MonitorPort    int      `yaml:"monitor_port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRuns       int    `yaml:"max_runs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type STTConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Mode            string `yaml:"mode"`
	Command         string `yaml:"command"`
	ModelPath       string `yaml:"model_path"`
	Language        string `yaml:"language"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	FrameDurationMS int    `yaml:"frame_duration_ms"`
	PartialEveryMS  int    `yaml:"partial_every_ms"`
	PublishInterim  bool   `yaml:"publish_interim"`
}

type LLMConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Mode          string  `yaml:"mode"` // mock, ollama, exec
	Endpoint      string  `yaml:"endpoint"`
	Command       string  `yaml:"command"`
	ModelFast     string  `yaml:"model_fast"`
	ModelBalanced string  `yaml:"model_balanced"`
	DefaultTier   string  `yaml:"default_tier"`
	MaxTokens     int     `yaml:"max_tokens"`
	Temperature   float64 `yaml:"temperature"`
}

type TTSConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Mode            string `yaml:"mode"`
	Command         string `yaml:"command"`
	Voice           string `yaml:"voice"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	ChunkDurationMS int    `yaml:"chunk_duration_ms"`
}

// ChatConfig controls how questions asked by voice reach the language model.
type ChatConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DefaultTier  string `yaml:"default_tier"`
	DefaultVoice string `yaml:"default_voice"`
	SpeakAnswers bool   `yaml:"speak_answers"`
	SystemPrompt string `yaml:"system_prompt"`
}

// VoiceConfig tunes the command listening session and its spoken feedback.
type VoiceConfig struct {
	Enabled          bool    `yaml:"enabled"`
	WakeWord         string  `yaml:"wake_word"`
	Locale           string  `yaml:"locale"`
	SessionID        string  `yaml:"session_id"`
	DebounceMS       int     `yaml:"debounce_ms"`
	CooldownMS       int     `yaml:"cooldown_ms"`
	RestartDelayMS   int     `yaml:"restart_delay_ms"`
	SettingsAnywhere bool    `yaml:"settings_anywhere"`
	TTSRate          float64 `yaml:"tts_rate"`
	TTSPitch         float64 `yaml:"tts_pitch"`
	TTSLanguage      string  `yaml:"tts_language"`
	TTSVoice         string  `yaml:"tts_voice"`
}

type CommandsConfig struct {
	TablePath string `yaml:"table_path"`
}

type DetectionConfig struct {
	IntervalMS      int `yaml:"interval_ms"`
	ListenWindowMS  int `yaml:"listen_window_ms"`
	UploadTimeoutMS int `yaml:"upload_timeout_ms"`
}

// PresenceConfig controls how the runtime announces itself and tracks app
// clients on the bus.
type PresenceConfig struct {
	PeerID      string `yaml:"peer_id"`
	HeartbeatMS int    `yaml:"heartbeat_ms"`
	TimeoutMS   int    `yaml:"timeout_ms"`
}

type PreferencesConfig struct {
	Defaults PreferenceDefaults `yaml:"defaults"`
	Persist  bool               `yaml:"persist"`
}

type PreferenceDefaults struct {
	VoiceCommands     bool `yaml:"voice_commands"`
	AudioFeedback     bool `yaml:"audio_feedback"`
	Location          bool `yaml:"location"`
	DetectionActive   bool `yaml:"detection_active"`
	ShowCommandPopups bool `yaml:"show_command_popups"`
}

func Default() Config {
	return Config{
		RuntimeName: "robin-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:         "info",
			TraceExporter:    "none",
			TraceSampleRatio: 1,
			OTLPInsecure:     true,
			PrometheusBind:   ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/robin-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxRuns:       10000,
		},
		STT: STTConfig{
			Enabled:         false,
			Mode:            "mock",
			Language:        "en-US",
			SampleRate:      16000,
			Channels:        1,
			FrameDurationMS: 20,
			PartialEveryMS:  800,
		},
		LLM: LLMConfig{
			Enabled:       false,
			Mode:          "mock",
			Endpoint:      "http://localhost:11434",
			ModelFast:     "llama3.2:latest",
			ModelBalanced: "llama3.2:latest",
			DefaultTier:   "balanced",
			MaxTokens:     256,
			Temperature:   0.7,
		},
		TTS: TTSConfig{
			Enabled:         false,
			Mode:            "mock",
			SampleRate:      22050,
			Channels:        1,
			ChunkDurationMS: 400,
		},
		Chat: ChatConfig{
			Enabled:      true,
			DefaultTier:  "balanced",
			DefaultVoice: "en-US",
			SystemPrompt: "You are Robin, a concise birding assistant. Answer in two or three sentences.",
		},
		Voice: VoiceConfig{
			Enabled:        true,
			WakeWord:       "robin",
			Locale:         "en-US",
			SessionID:      "robin-mic",
			DebounceMS:     600,
			CooldownMS:     2000,
			RestartDelayMS: 1000,
			TTSRate:        1.0,
			TTSPitch:       1.2,
			TTSLanguage:    "en-US",
		},
		Detection: DetectionConfig{
			IntervalMS:      3000,
			ListenWindowMS:  1000,
			UploadTimeoutMS: 10000,
		},
		Preferences: PreferencesConfig{
			Defaults: PreferenceDefaults{
				VoiceCommands:     true,
				ShowCommandPopups: true,
			},
			Persist: true,
		},
		Presence: PresenceConfig{
			PeerID:      "robin-runtime",
			HeartbeatMS: 2000,
			TimeoutMS:   6000,
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
	overrideString(&cfg.RuntimeName, "ROBIN_RUNTIME_NAME")
	overrideString(&cfg.Environment, "ROBIN_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "ROBIN_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "ROBIN_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "ROBIN_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.TraceExporter, "ROBIN_TELEMETRY_TRACE_EXPORTER")
	overrideFloat(&cfg.Telemetry.TraceSampleRatio, "ROBIN_TELEMETRY_TRACE_SAMPLE_RATIO")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "ROBIN_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "ROBIN_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "ROBIN_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "ROBIN_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "ROBIN_BUS_PORT")
	overrideInt(&cfg.Bus.MonitorPort, "ROBIN_BUS_MONITOR_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "ROBIN_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "ROBIN_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "ROBIN_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "ROBIN_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "ROBIN_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "ROBIN_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "ROBIN_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "ROBIN_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "ROBIN_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxRuns, "ROBIN_EVENT_STORE_MAX_RUNS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "ROBIN_EVENT_STORE_VACUUM_ON_START")
	overrideBool(&cfg.STT.Enabled, "ROBIN_STT_ENABLED")
	overrideString(&cfg.STT.Mode, "ROBIN_STT_MODE")
	overrideString(&cfg.STT.Command, "ROBIN_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "ROBIN_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "ROBIN_STT_LANGUAGE")
	overrideInt(&cfg.STT.SampleRate, "ROBIN_STT_SAMPLE_RATE")
	overrideInt(&cfg.STT.Channels, "ROBIN_STT_CHANNELS")
	overrideInt(&cfg.STT.FrameDurationMS, "ROBIN_STT_FRAME_DURATION_MS")
	overrideInt(&cfg.STT.PartialEveryMS, "ROBIN_STT_PARTIAL_EVERY_MS")
	overrideBool(&cfg.STT.PublishInterim, "ROBIN_STT_PUBLISH_INTERIM")
	overrideBool(&cfg.LLM.Enabled, "ROBIN_LLM_ENABLED")
	overrideString(&cfg.LLM.Mode, "ROBIN_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "ROBIN_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "ROBIN_LLM_COMMAND")
	overrideString(&cfg.LLM.ModelFast, "ROBIN_LLM_MODEL_FAST")
	overrideString(&cfg.LLM.ModelBalanced, "ROBIN_LLM_MODEL_BALANCED")
	overrideString(&cfg.LLM.DefaultTier, "ROBIN_LLM_DEFAULT_TIER")
	overrideInt(&cfg.LLM.MaxTokens, "ROBIN_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "ROBIN_LLM_TEMPERATURE")
	overrideBool(&cfg.TTS.Enabled, "ROBIN_TTS_ENABLED")
	overrideString(&cfg.TTS.Mode, "ROBIN_TTS_MODE")
	overrideString(&cfg.TTS.Command, "ROBIN_TTS_COMMAND")
	overrideString(&cfg.TTS.Voice, "ROBIN_TTS_VOICE")
	overrideInt(&cfg.TTS.SampleRate, "ROBIN_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "ROBIN_TTS_CHANNELS")
	overrideInt(&cfg.TTS.ChunkDurationMS, "ROBIN_TTS_CHUNK_DURATION_MS")
	overrideBool(&cfg.Chat.Enabled, "ROBIN_CHAT_ENABLED")
	overrideString(&cfg.Chat.DefaultTier, "ROBIN_CHAT_DEFAULT_TIER")
	overrideString(&cfg.Chat.DefaultVoice, "ROBIN_CHAT_DEFAULT_VOICE")
	overrideBool(&cfg.Chat.SpeakAnswers, "ROBIN_CHAT_SPEAK_ANSWERS")
	overrideString(&cfg.Chat.SystemPrompt, "ROBIN_CHAT_SYSTEM_PROMPT")
	overrideBool(&cfg.Voice.Enabled, "ROBIN_VOICE_ENABLED")
	overrideString(&cfg.Voice.WakeWord, "ROBIN_VOICE_WAKE_WORD")
	overrideString(&cfg.Voice.Locale, "ROBIN_VOICE_LOCALE")
	overrideString(&cfg.Voice.SessionID, "ROBIN_VOICE_SESSION_ID")
	overrideInt(&cfg.Voice.DebounceMS, "ROBIN_VOICE_DEBOUNCE_MS")
	overrideInt(&cfg.Voice.CooldownMS, "ROBIN_VOICE_COOLDOWN_MS")
	overrideInt(&cfg.Voice.RestartDelayMS, "ROBIN_VOICE_RESTART_DELAY_MS")
	overrideBool(&cfg.Voice.SettingsAnywhere, "ROBIN_VOICE_SETTINGS_ANYWHERE")
	overrideFloat(&cfg.Voice.TTSRate, "ROBIN_VOICE_TTS_RATE")
	overrideFloat(&cfg.Voice.TTSPitch, "ROBIN_VOICE_TTS_PITCH")
	overrideString(&cfg.Voice.TTSLanguage, "ROBIN_VOICE_TTS_LANGUAGE")
	overrideString(&cfg.Voice.TTSVoice, "ROBIN_VOICE_TTS_VOICE")
	overrideString(&cfg.Commands.TablePath, "ROBIN_COMMANDS_TABLE_PATH")
	overrideInt(&cfg.Detection.IntervalMS, "ROBIN_DETECTION_INTERVAL_MS")
	overrideInt(&cfg.Detection.ListenWindowMS, "ROBIN_DETECTION_LISTEN_WINDOW_MS")
	overrideInt(&cfg.Detection.UploadTimeoutMS, "ROBIN_DETECTION_UPLOAD_TIMEOUT_MS")
	overrideString(&cfg.Presence.PeerID, "ROBIN_PRESENCE_PEER_ID")
	overrideInt(&cfg.Presence.HeartbeatMS, "ROBIN_PRESENCE_HEARTBEAT_MS")
	overrideInt(&cfg.Presence.TimeoutMS, "ROBIN_PRESENCE_TIMEOUT_MS")
	overrideBool(&cfg.Preferences.Persist, "ROBIN_PREFERENCES_PERSIST")
	overrideBool(&cfg.Preferences.Defaults.VoiceCommands, "ROBIN_PREFERENCES_VOICE_COMMANDS")
	overrideBool(&cfg.Preferences.Defaults.AudioFeedback, "ROBIN_PREFERENCES_AUDIO_FEEDBACK")
	overrideBool(&cfg.Preferences.Defaults.Location, "ROBIN_PREFERENCES_LOCATION")
	overrideBool(&cfg.Preferences.Defaults.DetectionActive, "ROBIN_PREFERENCES_DETECTION_ACTIVE")
	overrideBool(&cfg.Preferences.Defaults.ShowCommandPopups, "ROBIN_PREFERENCES_SHOW_COMMAND_POPUPS")
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
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
		if cfg.Bus.MonitorPort < 0 || cfg.Bus.MonitorPort > 65535 {
			return errors.New("bus.monitor_port must be between 0 and 65535")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
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
	if cfg.Telemetry.TraceSampleRatio < 0 || cfg.Telemetry.TraceSampleRatio > 1 {
		return errors.New("telemetry.trace_sample_ratio must be within [0,1]")
	}
	if cfg.STT.Enabled {
		switch cfg.STT.Mode {
		case "mock", "exec":
		default:
			return errors.New("stt.mode must be one of mock|exec")
		}
		if cfg.STT.SampleRate <= 0 {
			return errors.New("stt.sample_rate must be positive")
		}
		if cfg.STT.Channels <= 0 {
			return errors.New("stt.channels must be positive")
		}
		if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
	}
	if cfg.LLM.Enabled {
		switch cfg.LLM.Mode {
		case "mock", "ollama", "exec":
		default:
			return errors.New("llm.mode must be one of mock|ollama|exec")
		}
		if cfg.LLM.Mode == "ollama" && cfg.LLM.Endpoint == "" {
			return errors.New("llm.endpoint must be set when mode=ollama")
		}
		if cfg.LLM.Mode == "exec" && cfg.LLM.Command == "" {
			return errors.New("llm.command must be set when mode=exec")
		}
		if cfg.LLM.MaxTokens < 0 {
			return errors.New("llm.max_tokens must be >= 0")
		}
	}
	if cfg.TTS.Enabled {
		switch cfg.TTS.Mode {
		case "mock", "exec":
		default:
			return errors.New("tts.mode must be one of mock|exec")
		}
		if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
		if cfg.TTS.SampleRate <= 0 {
			return errors.New("tts.sample_rate must be positive")
		}
		if cfg.TTS.Channels <= 0 {
			return errors.New("tts.channels must be positive")
		}
	}
	if cfg.Chat.Enabled && cfg.Chat.DefaultTier == "" {
		return errors.New("chat.default_tier must not be empty when chat is enabled")
	}
	if cfg.Voice.Enabled {
		if strings.TrimSpace(cfg.Voice.WakeWord) == "" {
			return errors.New("voice.wake_word must not be empty")
		}
		if cfg.Voice.SessionID == "" {
			return errors.New("voice.session_id must not be empty")
		}
		if cfg.Voice.DebounceMS <= 0 || cfg.Voice.CooldownMS <= 0 || cfg.Voice.RestartDelayMS <= 0 {
			return errors.New("voice.debounce_ms, cooldown_ms and restart_delay_ms must be positive")
		}
		if cfg.Voice.TTSRate <= 0 || cfg.Voice.TTSPitch <= 0 {
			return errors.New("voice.tts_rate and voice.tts_pitch must be positive")
		}
	}
	if cfg.Detection.IntervalMS <= 0 {
		return errors.New("detection.interval_ms must be positive")
	}
	if cfg.Detection.ListenWindowMS < 0 || cfg.Detection.ListenWindowMS >= cfg.Detection.IntervalMS {
		return errors.New("detection.listen_window_ms must be >= 0 and shorter than detection.interval_ms")
	}
	if cfg.Detection.UploadTimeoutMS <= 0 {
		return errors.New("detection.upload_timeout_ms must be positive")
	}
	if cfg.Presence.PeerID == "" {
		return errors.New("presence.peer_id must not be empty")
	}
	if cfg.Presence.HeartbeatMS <= 0 || cfg.Presence.TimeoutMS <= cfg.Presence.HeartbeatMS {
		return errors.New("presence.heartbeat_ms must be positive and shorter than presence.timeout_ms")
	}
	return nil
}
