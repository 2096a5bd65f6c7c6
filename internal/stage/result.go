// Package stage holds the vocabulary shared by the stage runner, the pipeline
// orchestrator, and the handoff builder: stage names, per-stage statuses,
// overall run statuses, and the cache policy.
package stage

import (
	"time"
)

// Names of the pipeline stages in execution order.
const (
	Fetch         = "fetch"
	Transcribe    = "transcribe"
	RenderHandoff = "render-handoff"
)

// Order lists the stages in dependency order.
var Order = []string{Fetch, Transcribe, RenderHandoff}

// Status is the outcome of a single stage.
type Status string

const (
	StatusCached   Status = "cached"
	StatusComputed Status = "computed"
	StatusFailed   Status = "failed"
)

// OK reports whether the stage produced a usable output.
func (s Status) OK() bool {
	return s == StatusCached || s == StatusComputed
}

// RunStatus is the overall outcome of a pipeline run.
type RunStatus string

const (
	RunComplete RunStatus = "complete"
	// RunPartial is reserved for independent stages executing in parallel.
	// Sequential runs never report it.
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

// Result records what happened to one stage.
type Result struct {
	Stage     string        `json:"stage"`
	Status    Status        `json:"status"`
	OutputRef string        `json:"output_ref,omitempty"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
	// Err is the classified failure; it is not persisted.
	Err error `json:"-"`
}

// Failed reports whether the stage failed.
func (r Result) Failed() bool {
	return r.Status == StatusFailed
}

// Aggregate derives the overall status from an ordered list of results.
// Any failure fails the run; a run is complete only when every expected
// stage reached a usable status.
func Aggregate(results []Result, expected int) RunStatus {
	for _, r := range results {
		if r.Failed() {
			return RunFailed
		}
	}
	if len(results) < expected {
		return RunFailed
	}
	return RunComplete
}

// CachePolicy selects whether a stage may reuse a cached record.
type CachePolicy int

const (
	// CacheReuse returns an existing record without invoking the collaborator.
	CacheReuse CachePolicy = iota
	// CacheRefresh always invokes the collaborator and overwrites the record.
	CacheRefresh
)

// PolicyFor maps a skip-cache flag onto a CachePolicy.
func PolicyFor(skipCache bool) CachePolicy {
	if skipCache {
		return CacheRefresh
	}
	return CacheReuse
}

func (p CachePolicy) String() string {
	if p == CacheRefresh {
		return "refresh"
	}
	return "reuse"
}
