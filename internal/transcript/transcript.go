// Package transcript defines the normalized transcript record produced by the
// transcribe stage and the timestamp helpers shared with the handoff builder.
package transcript

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"vidscribe/internal/services"
)

// Segment is one timestamped span of transcribed speech. Times are seconds
// from the start of the media.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is the normalized, cacheable output of the transcribe stage.
type Transcript struct {
	SourceID string    `json:"source_id"`
	Model    string    `json:"model"`
	Language string    `json:"language,omitempty"`
	Duration float64   `json:"duration_seconds"`
	Segments []Segment `json:"segments"`
	FullText string    `json:"full_text"`
}

// ModelKey builds the cache parameter for a transcript. A forced language is
// part of the key so auto-detected and forced transcripts never collide.
func ModelKey(model, language string) string {
	model = strings.TrimSpace(model)
	language = strings.TrimSpace(language)
	if language == "" {
		return model
	}
	return model + "@" + language
}

// Normalize turns raw engine segments into a Transcript: text is trimmed,
// blank segments are dropped, segments are stably ordered by start time,
// and times are clamped so that 0 <= start <= end (and <= duration when the
// media duration is known). An empty result is a validation failure.
func Normalize(sourceID, model, language string, raw []Segment, duration float64) (Transcript, error) {
	segments := make([]Segment, 0, len(raw))
	for _, seg := range raw {
		text := strings.Join(strings.Fields(seg.Text), " ")
		if text == "" {
			continue
		}
		start := clampTime(seg.Start, duration)
		end := clampTime(seg.End, duration)
		if end < start {
			end = start
		}
		segments = append(segments, Segment{Start: start, End: end, Text: text})
	}
	if len(segments) == 0 {
		return Transcript{}, services.Wrap(services.ErrValidation, "transcribe", "normalize",
			"Transcriber returned no speech segments", nil)
	}
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].Start < segments[j].Start
	})
	if duration < 0 || math.IsNaN(duration) {
		duration = 0
	}
	return Transcript{
		SourceID: sourceID,
		Model:    model,
		Language: language,
		Duration: duration,
		Segments: segments,
		FullText: joinText(segments),
	}, nil
}

func clampTime(value, duration float64) float64 {
	if value < 0 || math.IsNaN(value) {
		return 0
	}
	if duration > 0 && value > duration {
		return duration
	}
	return value
}

func joinText(segments []Segment) string {
	parts := make([]string, len(segments))
	for i, seg := range segments {
		parts[i] = seg.Text
	}
	return strings.Join(parts, " ")
}

// Verify re-checks the invariants Normalize establishes. Cached records that
// fail it are treated as corrupt.
func (t Transcript) Verify() error {
	fail := func(msg string) error {
		return services.Wrap(services.ErrValidation, "transcribe", "verify", msg, nil)
	}
	if strings.TrimSpace(t.SourceID) == "" {
		return fail("Transcript has no source id")
	}
	if len(t.Segments) == 0 {
		return fail("Transcript has no segments")
	}
	prev := 0.0
	for i, seg := range t.Segments {
		switch {
		case strings.TrimSpace(seg.Text) == "":
			return fail(fmt.Sprintf("Segment %d has no text", i))
		case seg.Start < prev:
			return fail(fmt.Sprintf("Segment %d starts before its predecessor", i))
		case seg.End < seg.Start:
			return fail(fmt.Sprintf("Segment %d ends before it starts", i))
		case t.Duration > 0 && seg.End > t.Duration:
			return fail(fmt.Sprintf("Segment %d ends after the media duration", i))
		}
		prev = seg.Start
	}
	if t.FullText != joinText(t.Segments) {
		return fail("Full text does not match segment text")
	}
	return nil
}

// Lines renders each segment as "[MM:SS] text".
func (t Transcript) Lines() []string {
	lines := make([]string, len(t.Segments))
	for i, seg := range t.Segments {
		lines[i] = "[" + FormatTimestamp(seg.Start) + "] " + seg.Text
	}
	return lines
}

// LastTimestamp returns the end of the final segment.
func (t Transcript) LastTimestamp() float64 {
	if len(t.Segments) == 0 {
		return 0
	}
	return t.Segments[len(t.Segments)-1].End
}

// WordCount returns the number of words in the full text.
func (t Transcript) WordCount() int {
	return len(strings.Fields(t.FullText))
}

// FormatTimestamp renders seconds as MM:SS, or HH:MM:SS from one hour on.
// Fractional seconds are truncated.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	total := int64(seconds)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// maxTimestampComponent bounds each field so the seconds sum cannot overflow.
const maxTimestampComponent = math.MaxInt32

// ParseTimestamp parses MM:SS or HH:MM:SS (optionally bracketed) into seconds.
func ParseTimestamp(value string) (float64, error) {
	trimmed := strings.TrimSpace(value)
	trimmed = strings.TrimSuffix(strings.TrimPrefix(trimmed, "["), "]")
	parts := strings.Split(trimmed, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("timestamp %q: expected MM:SS or HH:MM:SS", value)
	}
	nums := make([]int, len(parts))
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("timestamp %q: invalid component %q", value, part)
		}
		if n > maxTimestampComponent {
			return 0, fmt.Errorf("timestamp %q: component %q too large", value, part)
		}
		nums[i] = n
	}
	if nums[len(nums)-1] >= 60 {
		return 0, fmt.Errorf("timestamp %q: seconds out of range", value)
	}
	if len(nums) == 3 {
		if nums[1] >= 60 {
			return 0, fmt.Errorf("timestamp %q: minutes out of range", value)
		}
		return float64(nums[0])*3600 + float64(nums[1]*60+nums[2]), nil
	}
	return float64(nums[0])*60 + float64(nums[1]), nil
}
