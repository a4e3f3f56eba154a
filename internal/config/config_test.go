package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, env, body string) {
	t.Helper()
	t.Chdir(t.TempDir())
	if err := os.Mkdir("config", 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	name := filepath.Join("config", "config."+env+".yaml")
	if err := os.WriteFile(name, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	t.Setenv("CONFIG_ENV", env)
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_ENV", "absent")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port=%d, want 8080", cfg.Port)
	}
	if cfg.RoomCapacity != 10 {
		t.Errorf("RoomCapacity=%d, want 10", cfg.RoomCapacity)
	}
	if cfg.ChannelCount != 9 {
		t.Errorf("ChannelCount=%d, want 9", cfg.ChannelCount)
	}
	if cfg.ICEDebounce != 3*time.Second {
		t.Errorf("ICEDebounce=%v, want 3s", cfg.ICEDebounce)
	}
	if cfg.Turn.TTL != 24*time.Hour {
		t.Errorf("Turn.TTL=%v, want 24h", cfg.Turn.TTL)
	}
}

func TestLoadReadsFile(t *testing.T) {
	writeConfig(t, "test", `
port: 9000
room_capacity: 4
turn:
  secret: shared
  realm: cams.local
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9000 {
		t.Errorf("Port=%d, want 9000", cfg.Port)
	}
	if cfg.RoomCapacity != 4 {
		t.Errorf("RoomCapacity=%d, want 4", cfg.RoomCapacity)
	}
	if cfg.Turn.Secret != "shared" || cfg.Turn.Realm != "cams.local" {
		t.Errorf("Turn=%+v, want secret shared, realm cams.local", cfg.Turn)
	}
	// Keys the file omits keep their defaults.
	if cfg.JoinLimit != 10 {
		t.Errorf("JoinLimit=%d, want default 10", cfg.JoinLimit)
	}
}

func TestLoadRejectsMistypedValues(t *testing.T) {
	writeConfig(t, "test", "port: not-a-number\n")

	if _, err := Load(); err == nil {
		t.Fatal("Load()=nil error, want parse failure for non-numeric port")
	}
}
