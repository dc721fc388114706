package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if !cfg.Batch.IsEnabled() {
		t.Error("batching should default to enabled")
	}
	if cfg.Batch.MaxSize != 10 {
		t.Errorf("max_size = %d, want 10", cfg.Batch.MaxSize)
	}
	if cfg.Batch.Timeout() != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", cfg.Batch.Timeout())
	}
	if cfg.Ambient.Chance != 0.1 {
		t.Errorf("chance = %v, want 0.1", cfg.Ambient.Chance)
	}
	if cfg.Ambient.MaxInterval() != 30*time.Minute {
		t.Errorf("max interval = %v", cfg.Ambient.MaxInterval())
	}
	if cfg.Agent.Provider != "anthropic" {
		t.Errorf("provider = %q", cfg.Agent.Provider)
	}
	if !cfg.Respond.DMEnabled() || !cfg.Respond.GenericEnabled() {
		t.Error("respond toggles should default to enabled")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Batch.MaxSize != 10 {
		t.Errorf("max_size = %d", cfg.Batch.MaxSize)
	}
}

func TestLoad_JSON5File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
		// relay config
		channels: {
			respond_channel: "home",
			allow: ["home", "lobby"],
		},
		batch: { max_size: 4, timeout_ms: 5000 },
		ambient: { enabled: true, max_interval_minutes: 10, chance: 0.25, channel: "discord", to: "home" },
		respond: { generic: false },
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Channels.RespondChannel != "home" {
		t.Errorf("respond_channel = %q", cfg.Channels.RespondChannel)
	}
	if len(cfg.Channels.Allow) != 2 {
		t.Errorf("allow = %v", cfg.Channels.Allow)
	}
	if cfg.Batch.MaxSize != 4 || cfg.Batch.Timeout() != 5*time.Second {
		t.Errorf("batch = %+v", cfg.Batch)
	}
	if !cfg.Ambient.Enabled || cfg.Ambient.MaxInterval() != 10*time.Minute || cfg.Ambient.Chance != 0.25 {
		t.Errorf("ambient = %+v", cfg.Ambient)
	}
	if cfg.Respond.GenericEnabled() {
		t.Error("generic toggle should be off")
	}
	if !cfg.Respond.DMEnabled() {
		t.Error("dm toggle should stay on when unset")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CHATRELAY_DISCORD_TOKEN", "tok-123")
	t.Setenv("CHATRELAY_RESPOND_CHANNEL", "ops")
	t.Setenv("CHATRELAY_PORT", "9999")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Channels.Discord.Token != "tok-123" {
		t.Errorf("token = %q", cfg.Channels.Discord.Token)
	}
	if !cfg.Channels.Discord.Enabled {
		t.Error("discord should auto-enable when token arrives via env")
	}
	if cfg.Channels.RespondChannel != "ops" {
		t.Errorf("respond_channel = %q", cfg.Channels.RespondChannel)
	}
	if cfg.Gateway.Port != 9999 {
		t.Errorf("port = %d", cfg.Gateway.Port)
	}
}
