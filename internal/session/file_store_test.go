package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/court-scheduler/internal/internaltypes"
)

func sample(state string) Session {
	exp := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	return Session{
		State:      []byte(state),
		CapturedAt: time.Date(2026, 10, 16, 7, 0, 0, 0, time.UTC),
		ExpiresAt:  &exp,
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	store := NewFileStore(path, nil)

	if _, err := store.Load(ctx); !errors.Is(err, internaltypes.ErrNotFound) {
		t.Fatalf("Load on empty store = %v, want ErrNotFound", err)
	}

	want := sample(`{"cookies":[]}`)
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(got.State) != string(want.State) || !got.CapturedAt.Equal(want.CapturedAt) || !got.ExpiresAt.Equal(*want.ExpiresAt) {
		t.Errorf("Load = %+v, want %+v", got, want)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("mode = %o, want 600", perm)
	}
}

func TestFileStoreCrashKeepsLastGoodSession(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "session.json")
	store := NewFileStore(path, nil)

	if err := store.Save(ctx, sample("good")); err != nil {
		t.Fatal(err)
	}

	store.rename = func(string, string) error { return errors.New("power loss") }
	err := store.Save(ctx, sample("half-written"))
	if !errors.Is(err, internaltypes.ErrPersistence) {
		t.Fatalf("Save = %v, want ErrPersistence", err)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load after failed save: %v", err)
	}
	if string(got.State) != "good" {
		t.Errorf("state = %q, want last good session", got.State)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("leftover files: %v", names)
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := NewFileStore(path, nil).Load(context.Background())
	if !errors.Is(err, internaltypes.ErrPersistence) {
		t.Fatalf("Load = %v, want ErrPersistence", err)
	}
}

func TestFileStoreClear(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "session.json"), nil)
	if err := store.Save(ctx, sample("x")); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := store.Clear(ctx); err != nil {
			t.Fatalf("Clear #%d: %v", i+1, err)
		}
	}
	if _, err := store.Load(ctx); !errors.Is(err, internaltypes.ErrNotFound) {
		t.Fatalf("Load after Clear = %v, want ErrNotFound", err)
	}
}

func TestSessionExpired(t *testing.T) {
	s := sample("x")
	if s.Expired(s.ExpiresAt.Add(-time.Second)) {
		t.Error("expired before its expiry")
	}
	if !s.Expired(*s.ExpiresAt) {
		t.Error("not expired at its expiry")
	}
	if (Session{State: []byte("x")}).Expired(time.Now()) {
		t.Error("session without expiry reported expired")
	}
}
