package daemon

import (
	"fmt"
	"os"
)

// shmSentinelPath is the crash-safety sentinel: its presence means an
// wdmd instance is already running (or died without cleaning up, which
// is itself a reason to refuse a second start rather than silently
// double-arm the watchdog).
const shmSentinelPath = "/dev/shm/wdmd"

// Sentinel is the open shared-memory marker file a running Daemon holds
// for its entire lifetime.
type Sentinel struct {
	f *os.File
}

// AcquireSentinel creates the sentinel file, failing if one already
// exists.
func AcquireSentinel() (*Sentinel, error) {
	f, err := os.OpenFile(shmSentinelPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("wdmd sentinel %s already exists: another instance may be running", shmSentinelPath)
		}
		return nil, fmt.Errorf("create sentinel: %w", err)
	}
	return &Sentinel{f: f}, nil
}

// Release removes the sentinel file and closes its handle. Must be
// called on every exit path, clean or not, so a future start does not
// find a stale sentinel from a cleanly-stopped daemon.
func (s *Sentinel) Release() error {
	err := s.f.Close()
	if rmErr := os.Remove(shmSentinelPath); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}
