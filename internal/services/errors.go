package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrCollaborator       = errors.New("collaborator failure")
	ErrFetch              = fmt.Errorf("fetch failure: %w", ErrCollaborator)
	ErrTranscription      = fmt.Errorf("transcription failure: %w", ErrCollaborator)
	ErrValidation         = errors.New("validation failure")
	ErrCacheCorruption    = errors.New("cache corruption")
	ErrIncompletePipeline = errors.New("incomplete pipeline")
	ErrConfiguration      = errors.New("configuration error")
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrCancelled          = errors.New("run cancelled")
)

// Error kinds recorded on failed stage results.
const (
	KindFetch              = "FetchFailure"
	KindTranscription      = "TranscriptionFailure"
	KindCollaborator       = "CollaboratorFailure"
	KindValidation         = "ValidationFailure"
	KindCacheCorruption    = "CacheCorruption"
	KindIncompletePipeline = "IncompletePipeline"
	KindConfiguration      = "ConfigurationError"
	KindCancelled          = "Cancelled"
	KindInternal           = "InternalError"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrCollaborator
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind maps an error to its taxonomy label. More specific markers win, so a
// fetch failure reports FetchFailure rather than CollaboratorFailure.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFetch):
		return KindFetch
	case errors.Is(err, ErrTranscription):
		return KindTranscription
	case errors.Is(err, ErrCollaborator):
		return KindCollaborator
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrCacheCorruption):
		return KindCacheCorruption
	case errors.Is(err, ErrIncompletePipeline):
		return KindIncompletePipeline
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	default:
		return KindInternal
	}
}

// Classified reports whether err already carries one of the taxonomy markers.
func Classified(err error) bool {
	k := Kind(err)
	return k != "" && k != KindInternal
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
