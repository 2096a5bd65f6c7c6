// Package stageexec runs one cache-backed pipeline stage: consult the cache,
// invoke the collaborator on a miss, validate its output, and persist it.
package stageexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vidscribe/internal/cachestore"
	"vidscribe/internal/logging"
	"vidscribe/internal/services"
	"vidscribe/internal/stage"
)

// Runner carries the dependencies shared by every stage execution.
type Runner struct {
	store  *cachestore.Store
	logger *slog.Logger
}

// NewRunner builds a Runner over the given cache store.
func NewRunner(store *cachestore.Store, logger *slog.Logger) *Runner {
	return &Runner{store: store, logger: logging.NewComponentLogger(logger, "stage")}
}

// Store exposes the cache backing the runner.
func (r *Runner) Store() *cachestore.Store {
	return r.store
}

// Spec describes one cacheable stage.
type Spec[In, Out any] struct {
	// Name is the stage name recorded on results and log lines.
	Name string
	// Key derives the cache key from the stage input without I/O.
	Key func(In) cachestore.Key
	// Compute invokes the collaborator. It runs detached from cancellation so
	// an in-flight call completes and its output is cached.
	Compute func(ctx context.Context, in In) (Out, error)
	// Validate rejects collaborator output that must not be cached.
	Validate func(Out) error
	// Commit optionally moves payloads referenced by the output into the
	// cache blob directory and returns the output to persist.
	Commit func(key cachestore.Key, out Out) (Out, error)
	// Check re-validates a cached record; failures count as corruption.
	Check func(Out) error
}

type outcome[Out any] struct {
	value  Out
	cached bool
}

// Run executes spec for input under the given cache policy. The returned
// result is always populated; the output is meaningful only when the result
// status is not failed. Nothing is written to the cache on failure.
func Run[In, Out any](ctx context.Context, r *Runner, spec Spec[In, Out], in In, policy stage.CachePolicy) (Out, stage.Result) {
	var zero Out
	started := time.Now()
	result := stage.Result{Stage: spec.Name}

	ctx = services.WithStage(ctx, spec.Name)
	logger := logging.WithContext(ctx, r.logger)

	fail := func(err error) (Out, stage.Result) {
		result.Status = stage.StatusFailed
		result.ErrorKind = services.Kind(err)
		result.Error = err.Error()
		result.Err = err
		result.Duration = time.Since(started)
		logger.Error("stage failed",
			logging.String(logging.FieldEventType, "stage_failure"),
			logging.String("error_kind", result.ErrorKind),
			logging.String(logging.FieldErrorHint, "fix the cause and rerun; earlier stages stay cached"),
			logging.Error(err),
		)
		return zero, result
	}

	key := spec.Key(in)
	if err := key.Validate(); err != nil {
		return fail(services.Wrap(services.ErrValidation, spec.Name, "derive cache key", "", err))
	}
	result.OutputRef = r.store.Path(key)
	logger.Debug("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("cache_key", key.String()),
		logging.String("cache_policy", policy.String()),
	)

	if policy == stage.CacheReuse {
		if out, ok := lookup(r, logger, spec, key); ok {
			return finish(logger, result, started, stage.StatusCached, out)
		}
	}

	leader := false
	shared, err, _ := r.store.Do(key, func() (any, error) {
		leader = true
		return compute(ctx, r, logger, spec, key, in, policy)
	})
	if err != nil {
		return fail(err)
	}
	got, ok := shared.(outcome[Out])
	if !ok {
		return fail(fmt.Errorf("stage %s: unexpected shared result %T", spec.Name, shared))
	}
	status := stage.StatusComputed
	if got.cached || !leader {
		// Followers of an in-flight computation observe the leader's record.
		status = stage.StatusCached
	}
	return finish(logger, result, started, status, got.value)
}

func finish[Out any](logger *slog.Logger, result stage.Result, started time.Time, status stage.Status, out Out) (Out, stage.Result) {
	result.Status = status
	result.Duration = time.Since(started)
	event := "stage_complete"
	msg := "stage computed"
	if status == stage.StatusCached {
		event = "cache_hit"
		msg = "stage served from cache"
	}
	logger.Info(msg,
		logging.String(logging.FieldEventType, event),
		logging.String("output_ref", result.OutputRef),
		logging.Duration("duration", result.Duration),
	)
	return out, result
}

// lookup returns a usable cached record. Corrupt records are logged and
// reported as a miss.
func lookup[In, Out any](r *Runner, logger *slog.Logger, spec Spec[In, Out], key cachestore.Key) (Out, bool) {
	var out Out
	if !r.store.Exists(key) {
		return out, false
	}
	err := r.store.ReadJSON(key, &out)
	if err == nil && spec.Check != nil {
		if checkErr := spec.Check(out); checkErr != nil {
			err = services.Wrap(services.ErrCacheCorruption, spec.Name, "check cached record", key.String(), checkErr)
		}
	}
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return out, false
		}
		logging.WarnWithContext(logger, "cached record unusable; recomputing", "cache_corrupt",
			logging.String("cache_key", key.String()),
			logging.String(logging.FieldImpact, "collaborator will be invoked again and the record overwritten"),
			logging.String(logging.FieldErrorHint, "no action needed"),
			logging.Error(err),
		)
		var zero Out
		return zero, false
	}
	return out, true
}

func compute[In, Out any](ctx context.Context, r *Runner, logger *slog.Logger, spec Spec[In, Out], key cachestore.Key, in In, policy stage.CachePolicy) (any, error) {
	unlock, err := r.store.Lock(ctx, key)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, services.Wrap(services.ErrCancelled, spec.Name, "wait for cache lock", "", ctxErr)
		}
		return nil, err
	}
	defer func() {
		if err := unlock(); err != nil {
			logger.Warn("cache lock release failed",
				logging.String(logging.FieldEventType, "cache_unlock_failed"),
				logging.String(logging.FieldErrorHint, "remove the stale lock file if runs stall"),
				logging.String(logging.FieldImpact, "later runs may wait for the lock"),
				logging.Error(err),
			)
		}
	}()

	mode := cachestore.WriteExclusive
	if policy == stage.CacheReuse {
		// Another process may have finished while we waited for the lock.
		if out, ok := lookup(r, logger, spec, key); ok {
			return outcome[Out]{value: out, cached: true}, nil
		}
		if r.store.Exists(key) {
			mode = cachestore.WriteOverwrite
		}
	} else {
		mode = cachestore.WriteOverwrite
	}

	out, err := spec.Compute(context.WithoutCancel(ctx), in)
	if err != nil {
		if !services.Classified(err) {
			err = services.Wrap(services.ErrCollaborator, spec.Name, "invoke collaborator", "", err)
		}
		return nil, err
	}
	if spec.Validate != nil {
		if err := spec.Validate(out); err != nil {
			if !services.Classified(err) {
				err = services.Wrap(services.ErrValidation, spec.Name, "validate output", "", err)
			}
			return nil, err
		}
	}
	if spec.Commit != nil {
		if out, err = spec.Commit(key, out); err != nil {
			return nil, fmt.Errorf("%s: commit output: %w", spec.Name, err)
		}
	}
	if err := r.store.WriteJSON(key, out, mode); err != nil {
		if errors.Is(err, services.ErrAlreadyExists) {
			// A writer that bypassed the lock got there first; its record wins.
			if cached, ok := lookup(r, logger, spec, key); ok {
				return outcome[Out]{value: cached, cached: true}, nil
			}
		}
		return nil, fmt.Errorf("%s: persist output: %w", spec.Name, err)
	}
	return outcome[Out]{value: out}, nil
}
