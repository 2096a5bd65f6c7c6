// Package services defines shared utilities consumed by the pipeline stages
// and the external collaborators they drive.
//
// Key responsibilities:
//   - Context helpers that stamp source identifiers, stage names, and run
//     identifiers for logging and run summaries.
//   - Structured error markers plus the Wrap helper that classify failures
//     into the pipeline's error taxonomy (fetch, transcription, validation,
//     cache corruption, incomplete pipeline).
//   - Sub-packages wrapping the external tools (yt-dlp, WhisperX, Whisper)
//     behind narrow, testable contracts.
//
// Use these helpers when wiring new stage logic so failure reporting stays
// uniform across the pipeline.
package services
