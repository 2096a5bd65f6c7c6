package source

import (
	"errors"
	"strings"
	"testing"

	"vidscribe/internal/services"
)

func TestParseYouTubeVariants(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"https://www.youtube.com/watch?v=abc123XYZ_-", "abc123XYZ_-"},
		{"https://youtube.com/watch?feature=share&v=dQw4w9WgXcQ&t=42", "dQw4w9WgXcQ"},
		{"https://youtu.be/dQw4w9WgXcQ?t=10", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/embed/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"http://www.youtube.com/v/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://youtube.com/shorts/abcDEF12345", "abcDEF12345"},
		{"www.youtube.com/watch?v=abc123", "abc123"},
		{"  https://m.youtube.com/watch?v=abc123#frag ", "abc123"},
	}
	for _, tc := range cases {
		ref, err := Parse(tc.input)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tc.input, err)
		}
		if ref.ID != tc.want {
			t.Fatalf("Parse(%q).ID = %q, want %q", tc.input, ref.ID, tc.want)
		}
		if ref.Kind != KindRemote || ref.IsLocal() {
			t.Fatalf("Parse(%q) kind = %q", tc.input, ref.Kind)
		}
	}
}

func TestParseGenericURLIsDeterministic(t *testing.T) {
	first, err := Parse("https://Example.com/talks/keynote.mp4#t=5")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	second, err := Parse("https://example.com/talks/keynote.mp4")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("normalized URLs should share an id: %q vs %q", first.ID, second.ID)
	}
	if !strings.HasPrefix(first.ID, "url-") || len(first.ID) != len("url-")+16 {
		t.Fatalf("unexpected generic id %q", first.ID)
	}
	other, err := Parse("https://example.com/talks/other.mp4")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if other.ID == first.ID {
		t.Fatal("different URLs must not collide")
	}
}

func TestParseLocalFile(t *testing.T) {
	ref, err := Parse("/videos/My Conference Talk-2024.MP4")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ref.ID != "my_conference_talk_2024" {
		t.Fatalf("ID = %q", ref.ID)
	}
	if !ref.IsLocal() || ref.Path != "/videos/My Conference Talk-2024.MP4" {
		t.Fatalf("unexpected local ref %+v", ref)
	}
}

func TestParseRejectsInvalidInput(t *testing.T) {
	cases := []string{
		"",
		"   ",
		"https://www.youtube.com/channel/UC123",
		"notes.txt",
		"/videos/???.mp4",
	}
	for _, input := range cases {
		_, err := Parse(input)
		if err == nil {
			t.Fatalf("Parse(%q) expected error", input)
		}
		if !errors.Is(err, services.ErrValidation) {
			t.Fatalf("Parse(%q) error should be a validation failure, got %v", input, err)
		}
	}
}
