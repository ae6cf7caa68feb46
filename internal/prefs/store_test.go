package prefs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsAndWritesBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "prefs.json")
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != true {
		t.Fatalf("Load() = %v; want true", got)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read written default: %v", err)
	}
	if !strings.Contains(string(data), `"hideStaticResources": true`) {
		t.Fatalf("file = %s; want default written back", data)
	}
}

func TestLoadRecoversFromBadContent(t *testing.T) {
	for _, content := range []string{"{not json", `{"other":1}`, `{"hideStaticResources":"yes"}`} {
		path := filepath.Join(t.TempDir(), "prefs.json")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("seed: %v", err)
		}
		s, _ := NewFileStore(path)
		got, err := s.Load()
		if err != nil || got != true {
			t.Fatalf("Load(%s) = %v, %v; want true, nil", content, got, err)
		}
	}
}

func TestSetPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	s, _ := NewFileStore(path)
	if err := s.Set(false); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	other, _ := NewFileStore(path)
	got, err := other.Load()
	if err != nil || got != false {
		t.Fatalf("Load() after Set(false) = %v, %v; want false, nil", got, err)
	}
}

func TestWatchReportsExternalChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	s, _ := NewFileStore(path)
	if _, err := s.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan bool, 4)
	if err := s.Watch(ctx, func(v bool) { changes <- v }); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	if err := os.WriteFile(path, []byte(`{"hideStaticResources":false}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case v := <-changes:
		if v != false {
			t.Fatalf("change = %v; want false", v)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change notification")
	}
}
