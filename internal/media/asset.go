// Package media defines the MediaAsset record produced by the fetch stage and
// persisted in the media cache namespace.
package media

import (
	"fmt"
	"math"
	"os"
	"strings"

	"vidscribe/internal/services"
)

// Asset describes a fetched media file and its metadata.
type Asset struct {
	SourceID        string         `json:"source_id"`
	Path            string         `json:"path"`
	DurationSeconds float64        `json:"duration_seconds"`
	Title           string         `json:"title"`
	Description     string         `json:"description,omitempty"`
	URL             string         `json:"url,omitempty"`
	Uploader        string         `json:"uploader,omitempty"`
	UploadDate      string         `json:"upload_date,omitempty"`
	ViewCount       int64          `json:"view_count,omitempty"`
	Thumbnail       string         `json:"thumbnail,omitempty"`
	Local           bool           `json:"local"`
	Raw             map[string]any `json:"raw,omitempty"`
}

// Validate checks the asset invariants: a non-empty identifier, an existing
// non-empty media file, and a positive finite duration.
func (a Asset) Validate() error {
	if strings.TrimSpace(a.SourceID) == "" {
		return services.Wrap(services.ErrValidation, "fetch", "validate asset", "Media asset has no source id", nil)
	}
	if strings.TrimSpace(a.Path) == "" {
		return services.Wrap(services.ErrValidation, "fetch", "validate asset", "Media asset has no file path", nil)
	}
	info, err := os.Stat(a.Path)
	if err != nil {
		return services.Wrap(services.ErrValidation, "fetch", "validate asset", fmt.Sprintf("Media file %s is not readable", a.Path), err)
	}
	if info.IsDir() || info.Size() == 0 {
		return services.Wrap(services.ErrValidation, "fetch", "validate asset", fmt.Sprintf("Media file %s is empty", a.Path), nil)
	}
	if a.DurationSeconds <= 0 || math.IsNaN(a.DurationSeconds) || math.IsInf(a.DurationSeconds, 0) {
		return services.Wrap(services.ErrValidation, "fetch", "validate asset",
			fmt.Sprintf("Media duration %v is not positive", a.DurationSeconds), nil)
	}
	return nil
}

// DisplayTitle returns the title or, when empty, the source identifier.
func (a Asset) DisplayTitle() string {
	if title := strings.TrimSpace(a.Title); title != "" {
		return title
	}
	return a.SourceID
}
