package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `
panel:
  username: admin
  password: secret
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.LogLevel != "info" {
		t.Fatalf("log level: %q", cfg.LogLevel)
	}
	if cfg.Database.Path != "fleet.sqlite" {
		t.Fatalf("database path: %q", cfg.Database.Path)
	}
	if cfg.Panel.Timeout != 15 {
		t.Fatalf("panel timeout: %d", cfg.Panel.Timeout)
	}
	if cfg.Subscription.Listen != ":8080" {
		t.Fatalf("listen: %q", cfg.Subscription.Listen)
	}
	if cfg.Subscription.RemotePath != "/sub/" {
		t.Fatalf("remote path: %q", cfg.Subscription.RemotePath)
	}
	if cfg.Subscription.UpdateHours != 12 {
		t.Fatalf("update hours: %d", cfg.Subscription.UpdateHours)
	}
	if cfg.Sync.Interval != 600 {
		t.Fatalf("sync interval: %d", cfg.Sync.Interval)
	}
	if cfg.Shop.BonusDevices != 1 {
		t.Fatalf("bonus devices: %d", cfg.Shop.BonusDevices)
	}
}

func TestLoadRequiresCredentials(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"no username", "panel:\n  password: x\n", "username"},
		{"no password", "panel:\n  username: x\n", "password"},
		{"telegram enabled without token", minimalConfig + "telegram:\n  enabled: true\n", "token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("got %v, want error mentioning %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadNormalizesRemotePath(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+"subscription:\n  remote_path: /custom\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Subscription.RemotePath != "/custom/" {
		t.Fatalf("remote path: %q", cfg.Subscription.RemotePath)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatal(err)
	}
	cfg.Subscription.Title = "custom-title"

	path := filepath.Join(t.TempDir(), "saved.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Subscription.Title != "custom-title" {
		t.Fatalf("title after round trip: %q", got.Subscription.Title)
	}
	if got.Panel.Username != "admin" {
		t.Fatalf("username after round trip: %q", got.Panel.Username)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		c := &Config{LogLevel: tt.in}
		if got := c.ParseLogLevel(); got != tt.want {
			t.Fatalf("%q: got %v, want %v", tt.in, got, tt.want)
		}
	}
}
