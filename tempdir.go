package cdpilot

import (
	"errors"
	"os"
	"path/filepath"
	"time"
)

// crashpadMetricsFile is the one basename Chromium is known to hold a brief
// write-lock on after shutdown, even once the process has exited. The
// removal of a directory is retried only when this file is present in it,
// which keeps cleanup fast in the common case.
const crashpadMetricsFile = "CrashpadMetrics-active.pma"

const (
	tempDirCleanupRetries = 10
	tempDirCleanupBackoff = 100 * time.Millisecond
)

// tempDirManager tracks user-data directories cdpilot created on the
// caller's behalf, so Stop can remove them but a caller-supplied
// --user-data-dir is never touched.
//
// Grounded on pydoll's TempDirManager (browser/managers/temp_dir_manager.py):
// create_temp_dir, cleanup with a retry loop scoped to known-problematic
// files, generic OS errors swallowed, everything else propagated.
type tempDirManager struct {
	dirs []string
}

func newTempDirManager() *tempDirManager {
	return &tempDirManager{}
}

// createTempDir makes a fresh temp directory and starts tracking it.
func (m *tempDirManager) createTempDir() (string, error) {
	dir, err := os.MkdirTemp("", "cdpilot-")
	if err != nil {
		return "", withID(ErrBrowserStartFailed, "reason", err)
	}
	m.dirs = append(m.dirs, dir)
	return dir, nil
}

// cleanup removes every tracked directory, retrying files known to be
// briefly locked by a just-exited Chromium process before giving up.
func (m *tempDirManager) cleanup() error {
	var firstErr error
	for _, dir := range m.dirs {
		if err := m.removeDir(dir); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.dirs = nil
	return firstErr
}

func (m *tempDirManager) removeDir(dir string) error {
	err := os.RemoveAll(dir)
	if err == nil {
		return nil
	}
	if !errors.Is(err, os.ErrPermission) {
		// A generic failure (directory already gone, in use by something
		// unrelated) is swallowed: best-effort cleanup, not a start/stop
		// failure.
		return nil
	}
	return m.retryLockedFile(dir, err)
}

// retryLockedFile retries removing the whole of dir, backing off between
// attempts, when crashpadMetricsFile is present directly inside dir. If that
// file is absent, cause is returned as-is; if every retry fails, cause is
// returned wrapped with dir.
func (m *tempDirManager) retryLockedFile(dir string, cause error) error {
	target := filepath.Join(dir, crashpadMetricsFile)
	if _, statErr := os.Stat(target); statErr != nil {
		return cause
	}

	for i := 0; i < tempDirCleanupRetries; i++ {
		time.Sleep(tempDirCleanupBackoff)
		if err := os.RemoveAll(dir); err == nil {
			return nil
		}
	}
	return withID(cause, "dir", dir)
}
