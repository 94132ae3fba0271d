package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreWriteAndURL(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, "http://localhost:8080/static/")
	if err != nil {
		t.Fatalf("NewFileStore returned error: %v", err)
	}

	key, err := s.Write(context.Background(), "generated/images/job-1/image.png", []byte("png-bytes"))
	if err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if key != "generated/images/job-1/image.png" {
		t.Fatalf("key = %q, want cleaned input key", key)
	}

	data, err := os.ReadFile(filepath.Join(dir, "generated", "images", "job-1", "image.png"))
	if err != nil {
		t.Fatalf("reading stored file: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Fatalf("stored bytes = %q, want png-bytes", data)
	}

	want := "http://localhost:8080/static/generated/images/job-1/image.png"
	if got := s.URL(key); got != want {
		t.Fatalf("URL = %q, want %q", got, want)
	}
}

func TestFileStoreURLPassesThroughAbsolute(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), "http://localhost:8080/static")
	if err != nil {
		t.Fatalf("NewFileStore returned error: %v", err)
	}
	abs := "https://cdn.example.com/a.png"
	if got := s.URL(abs); got != abs {
		t.Fatalf("URL = %q, want pass-through", got)
	}
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewFileStore returned error: %v", err)
	}
	for _, key := range []string{"", "   ", "../escape.txt", "a/../../escape.txt"} {
		if _, err := s.Write(context.Background(), key, []byte("x")); err == nil {
			t.Fatalf("Write(%q) succeeded, want error", key)
		}
	}

	// Leading slashes and dot segments are normalized, not rejected.
	key, err := s.Write(context.Background(), "/a/./b.txt", []byte("x"))
	if err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if key != "a/b.txt" {
		t.Fatalf("key = %q, want a/b.txt", key)
	}
}

func TestFileStoreRequiresBasePath(t *testing.T) {
	if _, err := NewFileStore("  ", "http://localhost"); err == nil {
		t.Fatal("NewFileStore succeeded without a base path")
	}
}

func TestFileStoreHonorsCancelledContext(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewFileStore returned error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Write(ctx, "a.txt", []byte("x")); err == nil {
		t.Fatal("Write succeeded with a cancelled context")
	}
}
