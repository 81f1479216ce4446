package runlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"trayrunner/pkg/logx"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), logx.Nop())
}

func TestAppendAndReadBack(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	start := time.Now().UTC().Truncate(time.Second)

	e := NewRunning(start)
	if err := s.Append("cmd-1", 10, e); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, ok := s.Last("cmd-1")
	if !ok {
		t.Fatal("Last: no entry")
	}
	if got.UUID != e.UUID || got.Status != StatusRunning {
		t.Fatalf("Last = %+v", got)
	}
	if got.Terminal() {
		t.Fatal("RUNNING entry must not be terminal")
	}
	if _, ok := got.Duration(); ok {
		t.Fatal("RUNNING entry has no duration")
	}
}

func TestAppendUpsertsByUUID(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	e := NewRunning(time.Now().UTC())
	if err := s.Append("cmd-1", 10, e); err != nil {
		t.Fatalf("Append: %v", err)
	}

	end := e.StartTime.Add(2 * time.Second)
	code := 0
	e.Status = StatusSuccess
	e.EndTime = &end
	e.ExitCode = &code
	e.Stdout = "done"
	if err := s.Append("cmd-1", 10, e); err != nil {
		t.Fatalf("Append terminal: %v", err)
	}

	items := s.ReadAll("cmd-1")
	if len(items) != 1 {
		t.Fatalf("upsert must not duplicate, got %d entries", len(items))
	}
	if items[0].Status != StatusSuccess || items[0].Stdout != "done" {
		t.Fatalf("entry = %+v", items[0])
	}
	if d, ok := items[0].Duration(); !ok || d != 2*time.Second {
		t.Fatalf("Duration = %v, %v", d, ok)
	}
}

func TestAppendTrimsOldestFirst(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	for i := 0; i < 7; i++ {
		e := NewRunning(time.Now().UTC())
		e.Status = StatusSuccess
		e.Stdout = fmt.Sprintf("run-%d", i)
		if err := s.Append("cmd-1", 3, e); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	items := s.ReadAll("cmd-1")
	if len(items) != 3 {
		t.Fatalf("expected 3 entries after trim, got %d", len(items))
	}
	for i, want := range []string{"run-4", "run-5", "run-6"} {
		if items[i].Stdout != want {
			t.Fatalf("items[%d].Stdout = %q, want %q", i, items[i].Stdout, want)
		}
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	keep := NewRunning(time.Now().UTC())
	drop := NewRunning(time.Now().UTC())
	if err := s.Append("cmd-1", 10, keep); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append("cmd-1", 10, drop); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if err := s.Remove("cmd-1", drop.UUID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	items := s.ReadAll("cmd-1")
	if len(items) != 1 || items[0].UUID != keep.UUID {
		t.Fatalf("items = %+v", items)
	}

	// Removing an absent uuid is a no-op.
	if err := s.Remove("cmd-1", "nope"); err != nil {
		t.Fatalf("Remove absent: %v", err)
	}
}

func TestMissingFileIsEmptyHistory(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	if items := s.ReadAll("never-ran"); len(items) != 0 {
		t.Fatalf("items = %+v", items)
	}
	if _, ok := s.Last("never-ran"); ok {
		t.Fatal("Last must report no entry")
	}
}

func TestCorruptFileBacksUp(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s := NewStore(dir, logx.Nop())

	path := filepath.Join(dir, "cmd-1.log.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if items := s.ReadAll("cmd-1"); len(items) != 0 {
		t.Fatalf("corrupt log must read as empty, got %d", len(items))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	var backups int
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "cmd-1.log.json-") {
			backups++
		}
	}
	if backups != 1 {
		t.Fatalf("expected one backup, found %d", backups)
	}
}

func TestLegacyRunStatusMigrates(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s := NewStore(dir, logx.Nop())

	legacy := `{"items": [
		{"uuid": "a", "status": "RUN", "start_time": "2020-01-01T00:00:00Z", "exit_code": 0},
		{"uuid": "b", "status": "RUN", "start_time": "2020-01-01T00:01:00Z", "exit_code": 2}
	]}`
	if err := os.WriteFile(filepath.Join(dir, "cmd-1.log.json"), []byte(legacy), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	items := s.ReadAll("cmd-1")
	if len(items) != 2 {
		t.Fatalf("got %d items", len(items))
	}
	if items[0].Status != StatusSuccess {
		t.Fatalf("exit 0 must migrate to SUCCESS, got %q", items[0].Status)
	}
	if items[1].Status != StatusError {
		t.Fatalf("exit 2 must migrate to ERROR, got %q", items[1].Status)
	}
}

func TestSanitizedIDsDoNotCollide(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	// "a/b" sanitizes to "a-b"; it must still get its own file.
	first := NewRunning(time.Now().UTC())
	second := NewRunning(time.Now().UTC())
	if err := s.Append("a/b", 5, first); err != nil {
		t.Fatalf("Append a/b: %v", err)
	}
	if err := s.Append("a-b", 5, second); err != nil {
		t.Fatalf("Append a-b: %v", err)
	}

	got, ok := s.Last("a/b")
	if !ok || got.UUID != first.UUID {
		t.Fatalf("a/b history = %+v, %v", got, ok)
	}
	got, ok = s.Last("a-b")
	if !ok || got.UUID != second.UUID {
		t.Fatalf("a-b history = %+v, %v", got, ok)
	}

	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 log files, got %d", len(entries))
	}
}

func TestPathSanitization(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	e := NewRunning(time.Now().UTC())
	if err := s.Append("../../evil id", 5, e); err != nil {
		t.Fatalf("Append: %v", err)
	}
	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 file, got %d", len(entries))
	}
	if name := entries[0].Name(); strings.ContainsAny(name, "/ ") || strings.Contains(name, "..") {
		t.Fatalf("unsanitized file name %q", name)
	}
}
