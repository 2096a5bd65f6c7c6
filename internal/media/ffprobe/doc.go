// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Key types:
//   - Result: parsed ffprobe output containing streams and format metadata
//   - Stream: individual audio/video stream properties
//   - Format: container-level metadata (duration, size, tags)
//
// Inspect executes ffprobe and returns the parsed Result; Parse decodes a
// payload captured elsewhere. The fetch stage uses DurationSeconds and
// AudioStreamCount to decide whether a local file can be transcribed.
package ffprobe
