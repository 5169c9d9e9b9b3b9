package config_test

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/artfold/designbridge/config"
)

func TestHolder_Get(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	got := h.Get()
	if got == nil {
		t.Fatal("Get returned nil")
	}
	if got.Bridge.URL != "ws://127.0.0.1:8899/scripting" {
		t.Errorf("Bridge.URL = %s", got.Bridge.URL)
	}
}

func TestHolder_Reload(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	if h.Get().Verification.Enabled {
		t.Error("verification enabled initially, want disabled")
	}

	newContent := validConfig() + `
verification:
  enabled: true
`
	if err := os.WriteFile(path, []byte(newContent), 0644); err != nil {
		t.Fatalf("write new config: %v", err)
	}

	if err := h.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}

	if !h.Get().Verification.Enabled {
		t.Error("verification still disabled after reload")
	}
}

func TestHolder_ReloadKeepsOldConfigOnError(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	if err := os.WriteFile(path, []byte("bridge:\n  mode: \"nonsense\"\n"), 0644); err != nil {
		t.Fatalf("write bad config: %v", err)
	}

	if err := h.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if h.Get().Bridge.Mode != "websocket" {
		t.Errorf("Bridge.Mode = %s, want old value websocket", h.Get().Bridge.Mode)
	}
}

func TestHolder_OnChange(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	var mu sync.Mutex
	var received *config.Config
	h.OnChange(func(cfg *config.Config) {
		mu.Lock()
		received = cfg
		mu.Unlock()
	})

	if err := h.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if received == nil {
		t.Fatal("OnChange callback not called")
	}
}

func TestHolder_WatchFile(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	changed := make(chan struct{}, 1)
	h.OnChange(func(*config.Config) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	if err := h.WatchFile(); err != nil {
		t.Fatalf("WatchFile error: %v", err)
	}

	newContent := validConfig() + `
logging:
  level: "debug"
`
	if err := os.WriteFile(path, []byte(newContent), 0644); err != nil {
		t.Fatalf("write new config: %v", err)
	}

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("file change never triggered reload")
	}
	if h.Get().Logging.Level != "debug" {
		t.Errorf("Logging.Level = %s, want debug", h.Get().Logging.Level)
	}
}
