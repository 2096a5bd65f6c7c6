// Package whisperx runs WhisperX transcription for the transcribe stage.
//
// This package handles:
//   - Extracting mono 16kHz audio from the fetched media with ffmpeg
//   - Invoking WhisperX through uvx with a fixed decoding profile
//   - Loading the segments WhisperX writes as JSON
//
// Configuration options (model, CUDA, VAD method) are passed via Config.
package whisperx
