// Package source derives stable identifiers for video references.
//
// Parse never touches the network or the filesystem: the identifier of a
// reference must be known before any stage runs so cache lookups stay cheap.
package source

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	"vidscribe/internal/services"
	"vidscribe/internal/textutil"
)

// Kind distinguishes remote URLs from local media files.
type Kind string

const (
	KindRemote Kind = "remote"
	KindLocal  Kind = "local"
)

// Reference is a parsed source reference.
type Reference struct {
	Raw  string
	ID   string
	Kind Kind
	// URL is the normalized URL for remote references.
	URL string
	// Path is the cleaned file path for local references.
	Path string
}

// IsLocal reports whether the reference points at a local file.
func (r Reference) IsLocal() bool {
	return r.Kind == KindLocal
}

// SupportedExtensions lists the local media extensions accepted by Parse.
var SupportedExtensions = []string{".mp4", ".avi", ".mov", ".mkv", ".flv", ".wmv", ".webm", ".m4a", ".mp3", ".wav"}

var youtubePatterns = []*regexp.Regexp{
	regexp.MustCompile(`youtube\.com/watch\?(?:.*&)?v=([^&\n?#/]+)`),
	regexp.MustCompile(`youtu\.be/([^&\n?#/]+)`),
	regexp.MustCompile(`youtube\.com/embed/([^&\n?#/]+)`),
	regexp.MustCompile(`youtube\.com/v/([^&\n?#/]+)`),
	regexp.MustCompile(`youtube\.com/shorts/([^&\n?#/]+)`),
}

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Parse derives a Reference from user input.
func Parse(raw string) (Reference, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Reference{}, services.Wrap(services.ErrValidation, "source", "parse", "Source reference is empty", nil)
	}
	if IsRemote(trimmed) {
		return parseRemote(trimmed)
	}
	return parseLocal(trimmed)
}

// IsRemote reports whether raw looks like a URL rather than a file path.
func IsRemote(raw string) bool {
	lower := strings.ToLower(strings.TrimSpace(raw))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "www.")
}

func parseRemote(raw string) (Reference, error) {
	normalized, host, err := normalizeURL(raw)
	if err != nil {
		return Reference{}, services.Wrap(services.ErrValidation, "source", "parse url", fmt.Sprintf("Invalid URL %q", raw), err)
	}
	if isYouTubeHost(host) {
		id := YouTubeID(normalized)
		if id == "" {
			return Reference{}, services.Wrap(services.ErrValidation, "source", "parse url",
				fmt.Sprintf("Could not extract a video id from %q", raw), nil)
		}
		return Reference{Raw: raw, ID: id, Kind: KindRemote, URL: normalized}, nil
	}
	sum := sha256.Sum256([]byte(normalized))
	return Reference{Raw: raw, ID: "url-" + hex.EncodeToString(sum[:])[:16], Kind: KindRemote, URL: normalized}, nil
}

// YouTubeID extracts the video id from a YouTube URL, or "" when none matches.
func YouTubeID(rawURL string) string {
	for _, pattern := range youtubePatterns {
		match := pattern.FindStringSubmatch(rawURL)
		if len(match) == 2 && videoIDPattern.MatchString(match[1]) {
			return match[1]
		}
	}
	return ""
}

func normalizeURL(raw string) (string, string, error) {
	if strings.HasPrefix(strings.ToLower(raw), "www.") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	if parsed.Host == "" {
		return "", "", fmt.Errorf("missing host")
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	return parsed.String(), parsed.Hostname(), nil
}

func isYouTubeHost(host string) bool {
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimPrefix(host, "m.")
	switch host {
	case "youtube.com", "youtu.be", "youtube-nocookie.com", "music.youtube.com":
		return true
	}
	return false
}

func parseLocal(raw string) (Reference, error) {
	cleaned := filepath.Clean(raw)
	ext := strings.ToLower(filepath.Ext(cleaned))
	if !supportedExtension(ext) {
		return Reference{}, services.Wrap(services.ErrValidation, "source", "parse file",
			fmt.Sprintf("Unsupported media extension %q (supported: %s)", ext, strings.Join(SupportedExtensions, ", ")), nil)
	}
	stem := strings.TrimSuffix(filepath.Base(cleaned), filepath.Ext(cleaned))
	id := textutil.SanitizeIdentifier(stem)
	if id == "" {
		return Reference{}, services.Wrap(services.ErrValidation, "source", "parse file",
			fmt.Sprintf("File name %q yields an empty identifier", filepath.Base(cleaned)), nil)
	}
	return Reference{Raw: raw, ID: id, Kind: KindLocal, Path: cleaned}, nil
}

func supportedExtension(ext string) bool {
	for _, candidate := range SupportedExtensions {
		if ext == candidate {
			return true
		}
	}
	return false
}
