package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Hotkey.Key != "alt" {
		t.Fatalf("expected default hotkey, got %q", cfg.Hotkey.Key)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Fatalf("expected 16000 Hz default, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Hotkey.MinCaptureMS != 100 {
		t.Fatalf("expected 100 ms minimum capture, got %d", cfg.Hotkey.MinCaptureMS)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VOXKEY_HOTKEY_KEY", "f8")
	t.Setenv("VOXKEY_HOTKEY_POLL_INTERVAL_MS", "5")
	t.Setenv("VOXKEY_HOTKEY_MIN_CAPTURE_MS", "250")
	t.Setenv("VOXKEY_AUDIO_SAMPLE_RATE", "16000")
	t.Setenv("VOXKEY_ENGINE_MODE", "exec")
	t.Setenv("VOXKEY_ENGINE_COMMAND", "whisper-cli --output-json")
	t.Setenv("VOXKEY_ENGINE_LANGUAGE", "auto")
	t.Setenv("VOXKEY_INJECT_PASTE_DELAY_MS", "80")
	t.Setenv("VOXKEY_INJECT_RESTORE_CLIPBOARD", "true")
	t.Setenv("VOXKEY_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("VOXKEY_HISTORY_RETENTION_MODE", "persistent")
	t.Setenv("VOXKEY_HISTORY_RETENTION_DAYS", "7")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Hotkey.Key != "f8" {
		t.Fatalf("expected hotkey override, got %q", cfg.Hotkey.Key)
	}
	if cfg.Hotkey.PollIntervalMS != 5 {
		t.Fatalf("expected poll interval override, got %d", cfg.Hotkey.PollIntervalMS)
	}
	if cfg.Hotkey.MinCaptureMS != 250 {
		t.Fatalf("expected min capture override, got %d", cfg.Hotkey.MinCaptureMS)
	}
	if cfg.Engine.Mode != "exec" || cfg.Engine.Command != "whisper-cli --output-json" {
		t.Fatalf("expected engine override, got %q %q", cfg.Engine.Mode, cfg.Engine.Command)
	}
	if cfg.Engine.Language != "auto" {
		t.Fatalf("expected language override, got %q", cfg.Engine.Language)
	}
	if cfg.Inject.PasteDelayMS != 80 {
		t.Fatalf("expected paste delay override, got %d", cfg.Inject.PasteDelayMS)
	}
	if !cfg.Inject.RestoreClipboard {
		t.Fatal("expected restore clipboard override true")
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.History.RetentionMode != "persistent" || cfg.History.RetentionDays != 7 {
		t.Fatalf("expected history overrides, got %q %d", cfg.History.RetentionMode, cfg.History.RetentionDays)
	}
}

func TestValidateRejectsExecWithoutCommand(t *testing.T) {
	t.Setenv("VOXKEY_ENGINE_MODE", "exec")

	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for exec mode without command")
	}
}
