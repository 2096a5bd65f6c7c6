// Package textutil provides small text helpers shared by the pipeline:
// identifier sanitization, description truncation, and word counting.
package textutil
