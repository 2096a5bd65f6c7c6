package testsupport

import (
	"testing"

	"vidscribe/internal/config"
	"vidscribe/internal/runlog"
)

// MustOpenRunLog opens the run history database for tests and registers cleanup.
func MustOpenRunLog(t testing.TB, cfg *config.Config) *runlog.Store {
	t.Helper()

	store, err := runlog.Open(cfg.RunLog.Path)
	if err != nil {
		t.Fatalf("runlog.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
