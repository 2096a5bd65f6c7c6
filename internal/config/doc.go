// Package config loads, normalizes, and validates vidscribe configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// HF_TOKEN. The Config type centralizes every knob the pipeline and CLI need:
// cache and output directories, collaborator binaries, transcription engine
// selection, and the article requirements embedded in handoff documents.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical language codes, and clear validation errors.
package config
