package blob

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"mealcore/internal/config"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	mem, err := Open(ctx, config.BlobConfig{Driver: "memory"})
	if err != nil || mem.Driver() != DriverMemory {
		t.Fatalf("memory: %v", err)
	}
	fs, err := Open(ctx, config.BlobConfig{Driver: "fs", FSRoot: t.TempDir()})
	if err != nil || fs.Driver() != DriverFilesystem {
		t.Fatalf("fs: %v", err)
	}
	if _, err := Open(ctx, config.BlobConfig{Driver: "s3"}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
	if _, err := Open(ctx, config.BlobConfig{Driver: "ftp"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestImageKey(t *testing.T) {
	cases := map[string]string{
		"apple.png":          "ingredients/i1/apple.png",
		"../../etc/passwd":   "ingredients/i1/passwd",
		`C:\photos\pear.jpg`: "ingredients/i1/pear.jpg",
	}
	for in, want := range cases {
		got, err := ImageKey("i1", in)
		if err != nil || got != want {
			t.Fatalf("ImageKey(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	for _, bad := range []string{"", "..", "/"} {
		if _, err := ImageKey("i1", bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
	if _, err := ImageKey("", "a.png"); err == nil {
		t.Fatalf("expected error for empty id")
	}
}

func TestFacadeErrorsAreShared(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	if _, err := s.Put(ctx, "k", bytes.NewReader(nil), PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := s.Put(ctx, "k", bytes.NewReader(nil), PutOptions{}); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if _, err := s.Head(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
