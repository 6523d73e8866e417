package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// PidFile is an advisory-locked pidfile held for the daemon's lifetime,
// so a second wdmd against the same run directory fails fast instead of
// racing the first for the watchdog device.
type PidFile struct {
	f *os.File
}

// AcquirePidFile takes an advisory write lock (F_SETLK) on runDir's
// pidfile and writes the current pid into it.
func AcquirePidFile(runDir string) (*PidFile, error) {
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}

	path := filepath.Join(runDir, "wdmd.pid")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open pidfile: %w", err)
	}

	lock := unix.Flock_t{Type: unix.F_WRLCK, Whence: 0, Start: 0, Len: 0}
	if err := unix.FcntlFlock(f.Fd(), unix.F_SETLK, &lock); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock pidfile %s: another wdmd instance is running: %w", path, err)
	}

	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, fmt.Errorf("truncate pidfile: %w", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("write pidfile: %w", err)
	}

	return &PidFile{f: f}, nil
}

// Release closes the pidfile, dropping the advisory lock.
func (p *PidFile) Release() error {
	return p.f.Close()
}
