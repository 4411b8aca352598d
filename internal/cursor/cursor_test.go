package cursor

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "svc")

	s.Save(Position{Filename: "svc_2021_06_02.bin", Offset: 42})

	got, ok := s.Load()
	if !ok {
		t.Fatal("expected a known position")
	}
	if got.Filename != "svc_2021_06_02.bin" || got.Offset != 42 {
		t.Fatalf("got %+v", got)
	}

	data, err := os.ReadFile(filepath.Join(dir, "svc_cursor.pt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "svc_2021_06_02.bin 42" {
		t.Fatalf("on-disk content = %q", data)
	}
}

func TestLoadUnknownWhenMissing(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "svc")

	_, ok := s.Load()
	if ok {
		t.Fatal("expected unknown position for missing cursor file")
	}
}

func TestLoadUnknownWhenEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "svc_cursor.pt")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	s := New(dir, "svc")
	_, ok := s.Load()
	if ok {
		t.Fatal("expected unknown position for empty cursor file")
	}
}

func TestEnsureSentinelIdempotent(t *testing.T) {
	dir := t.TempDir()
	if err := EnsureSentinel(dir, "svc"); err != nil {
		t.Fatal(err)
	}
	if err := EnsureSentinel(dir, "svc"); err != nil {
		t.Fatalf("second call should be a no-op, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "svc_cursor.pt")); err != nil {
		t.Fatal(err)
	}
}
