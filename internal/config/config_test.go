package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Voice.WakeWord != "robin" {
		t.Fatalf("expected default wake word robin, got %q", cfg.Voice.WakeWord)
	}
	if cfg.Voice.DebounceMS != 600 || cfg.Voice.CooldownMS != 2000 || cfg.Voice.RestartDelayMS != 1000 {
		t.Fatalf("unexpected voice timing defaults: %+v", cfg.Voice)
	}
	if cfg.Detection.IntervalMS != 3000 || cfg.Detection.ListenWindowMS != 1000 {
		t.Fatalf("unexpected detection defaults: %+v", cfg.Detection)
	}
	d := cfg.Preferences.Defaults
	if !d.VoiceCommands || d.AudioFeedback || d.Location || d.DetectionActive || !d.ShowCommandPopups {
		t.Fatalf("unexpected preference defaults: %+v", d)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "robin.yaml")
	body := `runtime_name: test-robin
voice:
  wake_word: finch
  settings_anywhere: true
commands:
  table_path: ./commands.yaml
detection:
  interval_ms: 5000
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RuntimeName != "test-robin" || cfg.Voice.WakeWord != "finch" || !cfg.Voice.SettingsAnywhere {
		t.Fatalf("file values not applied: %+v", cfg.Voice)
	}
	if cfg.Commands.TablePath != "./commands.yaml" {
		t.Fatalf("expected table path, got %q", cfg.Commands.TablePath)
	}
	if cfg.Detection.IntervalMS != 5000 || cfg.Detection.ListenWindowMS != 1000 {
		t.Fatalf("expected merged detection config, got %+v", cfg.Detection)
	}
	if cfg.Voice.CooldownMS != 2000 {
		t.Fatalf("expected untouched defaults to survive, got %d", cfg.Voice.CooldownMS)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ROBIN_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("ROBIN_BUS_USERNAME", "alice")
	t.Setenv("ROBIN_BUS_PASSWORD", "secret")
	t.Setenv("ROBIN_BUS_TLS_INSECURE", "true")
	t.Setenv("ROBIN_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("ROBIN_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("ROBIN_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("ROBIN_EVENT_STORE_RETENTION_DAYS", "7")
	t.Setenv("ROBIN_EVENT_STORE_MAX_RUNS", "123")
	t.Setenv("ROBIN_EVENT_STORE_VACUUM_ON_START", "true")
	t.Setenv("ROBIN_VOICE_WAKE_WORD", "wren")
	t.Setenv("ROBIN_VOICE_COOLDOWN_MS", "2500")
	t.Setenv("ROBIN_VOICE_TTS_PITCH", "1.0")
	t.Setenv("ROBIN_VOICE_SETTINGS_ANYWHERE", "true")
	t.Setenv("ROBIN_DETECTION_LISTEN_WINDOW_MS", "0")
	t.Setenv("ROBIN_PREFERENCES_AUDIO_FEEDBACK", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.EventStore.Path != "./tmp.db" {
		t.Fatalf("expected event store path override")
	}
	if cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("expected event store retention mode override")
	}
	if cfg.EventStore.RetentionDays != 7 {
		t.Fatalf("expected event store retention days override")
	}
	if cfg.EventStore.MaxRuns != 123 {
		t.Fatalf("expected event store max sessions override")
	}
	if !cfg.EventStore.VacuumOnStart {
		t.Fatalf("expected event store vacuum flag override")
	}
	if cfg.Voice.WakeWord != "wren" || cfg.Voice.CooldownMS != 2500 || cfg.Voice.TTSPitch != 1.0 {
		t.Fatalf("expected voice overrides, got %+v", cfg.Voice)
	}
	if !cfg.Voice.SettingsAnywhere {
		t.Fatalf("expected settings_anywhere override")
	}
	if cfg.Detection.ListenWindowMS != 0 {
		t.Fatalf("expected listen window override, got %d", cfg.Detection.ListenWindowMS)
	}
	if !cfg.Preferences.Defaults.AudioFeedback {
		t.Fatalf("expected audio feedback default override")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"empty wake word":  func(c *Config) { c.Voice.WakeWord = " " },
		"zero debounce":    func(c *Config) { c.Voice.DebounceMS = 0 },
		"window too long":  func(c *Config) { c.Detection.ListenWindowMS = c.Detection.IntervalMS },
		"bad stt mode":     func(c *Config) { c.STT.Enabled = true; c.STT.Mode = "cloud" },
		"exec without cmd": func(c *Config) { c.TTS.Enabled = true; c.TTS.Mode = "exec" },
		"bad retention":    func(c *Config) { c.EventStore.RetentionMode = "forever" },
		"otlp no endpoint": func(c *Config) { c.Telemetry.TraceExporter = "otlp" },
		"bad exporter":     func(c *Config) { c.Telemetry.TraceExporter = "zipkin" },
		"ratio above one":  func(c *Config) { c.Telemetry.TraceSampleRatio = 1.5 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	cfg := Default()
	cfg.Voice.Enabled = false
	cfg.Voice.WakeWord = ""
	if err := validate(cfg); err != nil {
		t.Fatalf("disabled voice should skip voice checks: %v", err)
	}
}

func TestInvalidEnvValuesIgnored(t *testing.T) {
	t.Setenv("ROBIN_VOICE_DEBOUNCE_MS", "soon")
	t.Setenv("ROBIN_VOICE_WAKE_WORD", "   ")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Voice.DebounceMS != 600 || strings.TrimSpace(cfg.Voice.WakeWord) != "robin" {
		t.Fatalf("expected defaults to survive malformed env, got %+v", cfg.Voice)
	}
}
