package media

import (
	"testing"

	"github.com/spf13/afero"
)

func TestHashContent(t *testing.T) {
	// Known SHA256 hash of "hello"
	expected := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got := HashContent([]byte("hello")); got != expected {
		t.Errorf("HashContent(\"hello\") = %q, want %q", got, expected)
	}
}

func TestHashFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	content := []byte("photo bytes for hashing")
	if err := afero.WriteFile(fs, "/media/a.jpg", content, 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	hash, err := HashFile(fs, "/media/a.jpg")
	if err != nil {
		t.Fatalf("HashFile failed: %v", err)
	}
	if hash != HashContent(content) {
		t.Errorf("HashFile = %q, want %q", hash, HashContent(content))
	}
}

func TestHashFile_NotFound(t *testing.T) {
	if _, err := HashFile(afero.NewMemMapFs(), "/nonexistent/a.jpg"); err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestHashFile_Empty(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/empty.jpg", nil, 0644)

	hash, err := HashFile(fs, "/empty.jpg")
	if err != nil {
		t.Fatalf("HashFile failed: %v", err)
	}
	// SHA256 of empty input
	expected := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if hash != expected {
		t.Errorf("empty file hash = %q, want %q", hash, expected)
	}
}
