// Package pipeline orchestrates a vidscribe run: fetch, transcribe and
// render-handoff, strictly in that order.
//
// Fetch and transcribe go through stageexec so their outputs are cached and
// reused across runs; render-handoff always writes a fresh document. The
// first failed stage halts the run. Cancellation is honoured between stages
// only: a collaborator call that has started runs to completion and its
// output is cached, so an interrupted run resumes cheaply.
//
// Every run, successful or not, leaves a JSON summary in the runs directory
// and, when enabled, a row in the run log.
package pipeline
