package stageexec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"vidscribe/internal/cachestore"
	"vidscribe/internal/logging"
	"vidscribe/internal/services"
	"vidscribe/internal/stage"
)

type record struct {
	ID    string `json:"id"`
	Value int    `json:"value"`
}

type fakeCollaborator struct {
	calls atomic.Int32
	value int
	err   error
	gate  chan struct{}
}

func (f *fakeCollaborator) spec() Spec[string, record] {
	return Spec[string, record]{
		Name: "fetch",
		Key:  func(id string) cachestore.Key { return cachestore.MediaKey(id) },
		Compute: func(_ context.Context, id string) (record, error) {
			f.calls.Add(1)
			if f.gate != nil {
				<-f.gate
			}
			if f.err != nil {
				return record{}, f.err
			}
			return record{ID: id, Value: f.value}, nil
		},
		Validate: func(r record) error {
			if r.Value <= 0 {
				return errors.New("value must be positive")
			}
			return nil
		},
		Check: func(r record) error {
			if r.ID == "" {
				return errors.New("missing id")
			}
			return nil
		},
	}
}

func newRunner(t *testing.T) *Runner {
	t.Helper()
	return NewRunner(cachestore.New(filepath.Join(t.TempDir(), "cache"), logging.NewNop()), logging.NewNop())
}

func TestRunComputesThenServesFromCache(t *testing.T) {
	runner := newRunner(t)
	collab := &fakeCollaborator{value: 7}

	out, res := Run(context.Background(), runner, collab.spec(), "abc123", stage.CacheReuse)
	if res.Status != stage.StatusComputed {
		t.Fatalf("first run status = %s (%s)", res.Status, res.Error)
	}
	if out.Value != 7 || res.OutputRef != runner.Store().Path(cachestore.MediaKey("abc123")) {
		t.Fatalf("unexpected output %+v result %+v", out, res)
	}
	first, err := runner.Store().Read(cachestore.MediaKey("abc123"))
	if err != nil {
		t.Fatalf("record not written: %v", err)
	}

	collab.value = 99
	out, res = Run(context.Background(), runner, collab.spec(), "abc123", stage.CacheReuse)
	if res.Status != stage.StatusCached {
		t.Fatalf("second run status = %s", res.Status)
	}
	if out.Value != 7 {
		t.Fatalf("cached output should be the original record, got %+v", out)
	}
	if collab.calls.Load() != 1 {
		t.Fatalf("collaborator invoked %d times, want 1", collab.calls.Load())
	}
	second, _ := runner.Store().Read(cachestore.MediaKey("abc123"))
	if string(first) != string(second) {
		t.Fatal("cache hit must leave the record byte-identical")
	}
}

func TestRunRefreshAlwaysInvokesAndOverwrites(t *testing.T) {
	runner := newRunner(t)
	collab := &fakeCollaborator{value: 1}
	Run(context.Background(), runner, collab.spec(), "abc", stage.CacheReuse)

	collab.value = 2
	out, res := Run(context.Background(), runner, collab.spec(), "abc", stage.CacheRefresh)
	if res.Status != stage.StatusComputed || out.Value != 2 {
		t.Fatalf("refresh result %+v out %+v", res, out)
	}
	if collab.calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", collab.calls.Load())
	}
	var stored record
	if err := runner.Store().ReadJSON(cachestore.MediaKey("abc"), &stored); err != nil || stored.Value != 2 {
		t.Fatalf("record not overwritten: %+v %v", stored, err)
	}
}

func TestRunCollaboratorFailureWritesNothing(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantKind string
	}{
		{"unclassified", errors.New("boom"), services.KindCollaborator},
		{"fetch", services.Wrap(services.ErrFetch, "fetch", "yt-dlp", "video unavailable", nil), services.KindFetch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runner := newRunner(t)
			collab := &fakeCollaborator{err: tc.err}
			_, res := Run(context.Background(), runner, collab.spec(), "abc", stage.CacheReuse)
			if res.Status != stage.StatusFailed || res.ErrorKind != tc.wantKind {
				t.Fatalf("result = %+v, want kind %s", res, tc.wantKind)
			}
			if res.Error == "" {
				t.Fatal("failed result must carry error detail")
			}
			if runner.Store().Exists(cachestore.MediaKey("abc")) {
				t.Fatal("failed stage must not write a record")
			}
		})
	}
}

func TestRunValidationFailureWritesNothing(t *testing.T) {
	runner := newRunner(t)
	collab := &fakeCollaborator{value: 0}
	_, res := Run(context.Background(), runner, collab.spec(), "abc", stage.CacheReuse)
	if res.Status != stage.StatusFailed || res.ErrorKind != services.KindValidation {
		t.Fatalf("result = %+v", res)
	}
	if runner.Store().Exists(cachestore.MediaKey("abc")) {
		t.Fatal("invalid output must not be cached")
	}
}

func TestRunRecomputesCorruptRecords(t *testing.T) {
	cases := map[string]string{
		"undecodable": "{not json",
		"fails check": `{"id":"","value":3}`,
		"wrong shape": `[1,2,3]`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			runner := newRunner(t)
			key := cachestore.MediaKey("abc")
			if err := runner.Store().Write(key, []byte(content), cachestore.WriteOverwrite); err != nil {
				t.Fatal(err)
			}
			collab := &fakeCollaborator{value: 5}
			out, res := Run(context.Background(), runner, collab.spec(), "abc", stage.CacheReuse)
			if res.Status != stage.StatusComputed || out.Value != 5 {
				t.Fatalf("expected recomputation, got %+v %+v", res, out)
			}
			var stored record
			if err := runner.Store().ReadJSON(key, &stored); err != nil || stored.Value != 5 || stored.ID != "abc" {
				t.Fatalf("corrupt record not replaced: %+v %v", stored, err)
			}
		})
	}
}

func TestRunCommitRewritesOutput(t *testing.T) {
	runner := newRunner(t)
	collab := &fakeCollaborator{value: 3}
	spec := collab.spec()
	spec.Commit = func(key cachestore.Key, r record) (record, error) {
		dir := runner.Store().BlobDir(key)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return r, err
		}
		r.Value = 30
		return r, nil
	}
	out, res := Run(context.Background(), runner, spec, "abc", stage.CacheReuse)
	if res.Status != stage.StatusComputed || out.Value != 30 {
		t.Fatalf("commit not applied: %+v %+v", res, out)
	}

	spec.Commit = func(cachestore.Key, record) (record, error) { return record{}, fmt.Errorf("disk full") }
	_, res = Run(context.Background(), runner, spec, "other", stage.CacheReuse)
	if res.Status != stage.StatusFailed || runner.Store().Exists(cachestore.MediaKey("other")) {
		t.Fatalf("commit failure should fail without writing: %+v", res)
	}
}

func TestRunConcurrentCallersComputeOnce(t *testing.T) {
	runner := newRunner(t)
	collab := &fakeCollaborator{value: 4, gate: make(chan struct{})}

	statuses := make([]stage.Status, 3)
	var wg sync.WaitGroup
	for i := range statuses {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, res := Run(context.Background(), runner, collab.spec(), "same", stage.CacheReuse)
			statuses[i] = res.Status
		}(i)
	}
	time.Sleep(100 * time.Millisecond)
	close(collab.gate)
	wg.Wait()

	if collab.calls.Load() != 1 {
		t.Fatalf("collaborator invoked %d times, want 1", collab.calls.Load())
	}
	computed := 0
	for _, status := range statuses {
		switch status {
		case stage.StatusComputed:
			computed++
		case stage.StatusCached:
		default:
			t.Fatalf("unexpected status %s", status)
		}
	}
	if computed != 1 {
		t.Fatalf("expected exactly one computed result, got %v", statuses)
	}
}

func TestRunRejectsUnsafeKey(t *testing.T) {
	runner := newRunner(t)
	collab := &fakeCollaborator{value: 1}
	_, res := Run(context.Background(), runner, collab.spec(), "../etc", stage.CacheReuse)
	if res.Status != stage.StatusFailed || res.ErrorKind != services.KindValidation {
		t.Fatalf("result = %+v", res)
	}
	if collab.calls.Load() != 0 {
		t.Fatal("collaborator must not run for an invalid key")
	}
}
