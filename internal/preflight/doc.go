// Package preflight provides readiness checks for the external binaries and
// filesystem paths vidscribe depends on.
//
// The "vidscribe check" command prints every result; "vidscribe run" calls
// RunAll first and refuses to start when a required check fails, so a run
// does not download a video only to discover the transcriber is missing.
package preflight
