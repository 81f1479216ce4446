package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	t.Parallel()
	m := NewManager(filepath.Join(t.TempDir(), "config.json"))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Version != SchemaVersion {
		t.Fatalf("version = %d", cfg.Version)
	}
	if len(cfg.Commands) != 0 {
		t.Fatalf("expected no commands, got %d", len(cfg.Commands))
	}
	if m.Get() != cfg {
		t.Fatal("Load must commit the parsed config")
	}
}

func TestSaveLoadRoundTripJSON(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.json")
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	cmd := NewCommand("uptime")
	cmd.Command = "uptime"
	cmd.Environment = []EnvVar{{Key: "LANG", Value: "C"}}
	err := m.Mutate(func(cfg *Config) error {
		cfg.Commands = append(cfg.Commands, cmd)
		cfg.Logging.Level = "debug"
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	m2 := NewManager(path)
	cfg, err := m2.Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got := cfg.CommandByID(cmd.ID)
	if got == nil {
		t.Fatal("command missing after round trip")
	}
	if got.Name != "uptime" || got.Command != "uptime" {
		t.Fatalf("command = %+v", got)
	}
	if len(got.Environment) != 1 || got.Environment[0].Key != "LANG" {
		t.Fatalf("environment = %+v", got.Environment)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("logging level = %q", cfg.Logging.Level)
	}
}

func TestSaveLoadRoundTripYAML(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	cmd := NewCommand("df")
	cmd.Command = "df -h"
	if err := m.Mutate(func(cfg *Config) error {
		cfg.Commands = append(cfg.Commands, cmd)
		return nil
	}); err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	// YAML output must use the json tag names.
	if !strings.Contains(string(b), "schedule_mode: PERIOD") {
		t.Fatalf("unexpected yaml output:\n%s", b)
	}

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.CommandByID(cmd.ID) == nil {
		t.Fatal("command missing after yaml round trip")
	}
}

func TestLoadCorruptFileBacksUp(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Commands) != 0 {
		t.Fatal("expected defaults after corrupt load")
	}

	// The broken file must survive under a backup name.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	var backups int
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "config.json-") {
			backups++
		}
	}
	if backups != 1 {
		t.Fatalf("expected one backup file, found %d", backups)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("corrupt file must be moved aside, not left in place")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	_, err := decode("config.json", []byte(`{"version": 2, "surprise": true}`))
	if err == nil || !strings.Contains(err.Error(), "surprise") {
		t.Fatalf("decode = %v, want unknown field error", err)
	}
}

func TestWatchPublishesExternalEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := m.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := m.Subscribe(1)
	watchDone := make(chan error, 1)
	go func() { watchDone <- m.Watch(ctx) }()

	// Give the watcher a moment to register before editing the file.
	time.Sleep(200 * time.Millisecond)

	edited := `{"version": 2, "commands": [{"id": "x1", "name": "date", "command": "date"}]}`
	if err := os.WriteFile(path, []byte(edited), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case cfg := <-sub:
		if cfg.CommandByID("x1") == nil {
			t.Fatalf("published config missing edited command")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never published the external edit")
	}

	cancel()
	if err := <-watchDone; err != nil {
		t.Fatalf("Watch: %v", err)
	}
}
