package transcript

import (
	"encoding/json"
	"fmt"
	"os"
)

// Request describes one transcription job handed to an engine.
type Request struct {
	// MediaPath is the fetched media file.
	MediaPath string
	Model     string
	// Language forces a language code; empty lets the engine detect it.
	Language string
	// WorkDir receives extracted audio and engine output files.
	WorkDir string
}

// Raw is engine output before normalization.
type Raw struct {
	Segments []Segment
	// Language is the language the engine detected or was told to use.
	Language string
}

// enginePayload is the JSON shape WhisperX and openai-whisper both write.
type enginePayload struct {
	Language string `json:"language"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// LoadRaw reads an engine's JSON output file.
func LoadRaw(path string) (Raw, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Raw{}, err
	}
	return ParseRaw(data)
}

// ParseRaw decodes engine JSON output.
func ParseRaw(data []byte) (Raw, error) {
	var payload enginePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return Raw{}, fmt.Errorf("parse engine json: %w", err)
	}
	raw := Raw{Language: payload.Language, Segments: make([]Segment, 0, len(payload.Segments))}
	for _, seg := range payload.Segments {
		raw.Segments = append(raw.Segments, Segment{Start: seg.Start, End: seg.End, Text: seg.Text})
	}
	return raw, nil
}
