package media

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"vidscribe/internal/services"
)

func TestAssetValidate(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "abc123.mp4")
	if err := os.WriteFile(file, []byte("media"), 0o644); err != nil {
		t.Fatal(err)
	}
	empty := filepath.Join(dir, "empty.mp4")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	valid := Asset{SourceID: "abc123", Path: file, DurationSeconds: 42}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid asset, got %v", err)
	}

	cases := map[string]Asset{
		"missing id":    {Path: file, DurationSeconds: 42},
		"missing file":  {SourceID: "abc123", Path: filepath.Join(dir, "gone.mp4"), DurationSeconds: 42},
		"empty file":    {SourceID: "abc123", Path: empty, DurationSeconds: 42},
		"zero duration": {SourceID: "abc123", Path: file},
		"directory":     {SourceID: "abc123", Path: dir, DurationSeconds: 42},
	}
	for name, asset := range cases {
		err := asset.Validate()
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		if !errors.Is(err, services.ErrValidation) {
			t.Fatalf("%s: expected validation failure, got %v", name, err)
		}
	}
}

func TestDisplayTitle(t *testing.T) {
	if got := (Asset{SourceID: "abc", Title: "  "}).DisplayTitle(); got != "abc" {
		t.Fatalf("DisplayTitle = %q", got)
	}
	if got := (Asset{SourceID: "abc", Title: "Talk"}).DisplayTitle(); got != "Talk" {
		t.Fatalf("DisplayTitle = %q", got)
	}
}
