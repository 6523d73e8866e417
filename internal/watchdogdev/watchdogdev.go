// Package watchdogdev shims the Linux hardware watchdog character device:
// open, configure, pet, and the clean/unclean close distinction that
// decides whether the final ioctl before a crash still reaches the
// hardware (§4.1).
package watchdogdev

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Linux watchdog ioctl request codes (include/uapi/linux/watchdog.h).
// golang.org/x/sys/unix does not export these directly; they are fixed
// by the kernel ABI so we hardcode them rather than recompute the
// _IOR/_IOWR encoding.
const (
	wdiocKeepalive  = 0x80045705
	wdiocSetTimeout = 0xc0045706
	wdiocGetTimeout = 0x80045707
)

// DefaultPaths is the device path preference order used when the operator
// gives no explicit path and no saved path exists from a previous run:
// /dev/watchdog0, then /dev/watchdog1, then the generic /dev/watchdog.
var DefaultPaths = []string{"/dev/watchdog0", "/dev/watchdog1", "/dev/watchdog"}

// Device is an opened, configured hardware watchdog.
type Device struct {
	f       *os.File
	path    string
	timeout time.Duration
}

// candidatePaths builds the full preference order: a saved path from a
// prior run, then an operator-supplied path, then DefaultPaths, in the
// order given by spec §4.1 item (1). Empty candidates are skipped.
func candidatePaths(saved, operator string) []string {
	var paths []string
	if saved != "" {
		paths = append(paths, saved)
	}
	if operator != "" && operator != saved {
		paths = append(paths, operator)
	}
	for _, p := range DefaultPaths {
		if p != saved && p != operator {
			paths = append(paths, p)
		}
	}
	return paths
}

// Open tries each candidate device path in order and configures the first
// one that accepts fireTimeout. It returns an error naming every path that
// was tried if none succeed.
func Open(saved, operator string, fireTimeout time.Duration) (*Device, error) {
	var errs []error
	for _, path := range candidatePaths(saved, operator) {
		d, err := openAndConfigure(path, fireTimeout)
		if err == nil {
			return d, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", path, err))
	}
	return nil, fmt.Errorf("no usable watchdog device found: %v", errs)
}

func openAndConfigure(path string, fireTimeout time.Duration) (*Device, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, err
	}

	seconds := int(fireTimeout / time.Second)
	if err := unix.IoctlSetPointerInt(int(f.Fd()), wdiocSetTimeout, seconds); err != nil {
		f.Close()
		return nil, fmt.Errorf("set timeout to %ds: %w", seconds, err)
	}

	got, err := unix.IoctlGetInt(int(f.Fd()), wdiocGetTimeout)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("confirm timeout: %w", err)
	}
	if got != seconds {
		f.Close()
		return nil, fmt.Errorf("device accepted timeout %ds, reported %ds", seconds, got)
	}

	return &Device{f: f, path: path, timeout: fireTimeout}, nil
}

// Probe opens and configures the first usable device, disarms it with a
// clean close, and returns its path without leaving the device armed.
// Used by wdmd's one-shot --probe mode.
func Probe(saved, operator string, fireTimeout time.Duration) (string, error) {
	d, err := Open(saved, operator, fireTimeout)
	if err != nil {
		return "", err
	}
	path := d.path
	if err := d.CloseClean(); err != nil {
		return "", err
	}
	return path, nil
}

// Path returns the device path this Device was opened from.
func (d *Device) Path() string {
	return d.path
}

// Keepalive pets the watchdog, postponing the next fire by Timeout().
func (d *Device) Keepalive() error {
	_, err := unix.IoctlGetInt(int(d.f.Fd()), wdiocKeepalive)
	return err
}

// Timeout returns the fire timeout the device was configured with.
func (d *Device) Timeout() time.Duration {
	return d.timeout
}

// CloseClean disarms the watchdog before closing it: most drivers
// interpret a "V" written just before close as an explicit request not
// to fire. Used on graceful shutdown when no client demands fencing.
func (d *Device) CloseClean() error {
	if _, err := d.f.Write([]byte("V")); err != nil {
		d.f.Close()
		return fmt.Errorf("disarm watchdog: %w", err)
	}
	return d.f.Close()
}

// CloseUnclean closes the file descriptor without writing the disarm
// byte. Most drivers leave the watchdog armed across the close in this
// case, so the machine resets after Timeout() elapses with no further
// keepalives. This is how wdmd asks the hardware to fence the host.
func (d *Device) CloseUnclean() error {
	return d.f.Close()
}
