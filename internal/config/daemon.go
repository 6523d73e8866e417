// Package config holds the validated runtime configuration for both the
// wdmd daemon and the fence-reset orchestrator CLI.
package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

const (
	// DefaultTestInterval is the period of the WDM test loop (§4.2).
	DefaultTestInterval = 10 * time.Second
	// RecoverTestInterval is the shortened period used after a failed
	// test pass, so a subsequent recovery can reopen the device in time.
	RecoverTestInterval = 1 * time.Second
	// DefaultFireTimeout is the hardware watchdog's configured maximum
	// interval between keepalives before it resets the machine.
	DefaultFireTimeout = 60 * time.Second
	// MaxScripts is a limit on the cross-host script test suite (§3).
	// internal/scripts does not consult it: a Suite loads every
	// executable file in its directory.
	MaxScripts = 8
	// DefaultSocketGroup is the group that owns the WDM local socket.
	DefaultSocketGroup = "fencewd"
	// DefaultRunDir holds the pidfile, saved watchdog path, and socket.
	DefaultRunDir = "/run/fencewd"
)

// DaemonConfig is the validated configuration for the wdmd daemon.
type DaemonConfig struct {
	Debug         bool          // -D: no fork, debug-level logging
	HighPriority  bool          // -H: request SCHED_RR + mlockall
	SocketGroup   string        // -G: group ownership for the client socket
	AllowScripts  bool          // -S: run cross-host scripts
	ScriptsDir    string        // -s: directory of cross-host scripts
	KillScriptSec time.Duration // -k: SIGKILL scripts running longer than this (0 = never)
	WatchdogPath  string        // -w: operator-preferred watchdog device path
	FireTimeout   time.Duration // hardware watchdog fire timeout
	TestInterval  time.Duration // WDM test loop period
	RunDir        string        // pidfile / saved-path / socket directory
	Probe         bool          // --probe: print a working device path and exit
	Dump          bool          // --dump: connect and print debug state, then exit
}

// DefaultDaemonConfig returns a DaemonConfig with the same defaults as the
// original wdmd.
func DefaultDaemonConfig() *DaemonConfig {
	return &DaemonConfig{
		HighPriority:  true,
		SocketGroup:   DefaultSocketGroup,
		ScriptsDir:    "/etc/fencewd.d",
		KillScriptSec: 0,
		FireTimeout:   DefaultFireTimeout,
		TestInterval:  DefaultTestInterval,
		RunDir:        DefaultRunDir,
	}
}

// Validate checks that the daemon configuration is usable.
func (c *DaemonConfig) Validate() error {
	var result *multierror.Error

	if c.TestInterval <= 0 {
		result = multierror.Append(result, fmt.Errorf("test interval must be > 0"))
	}
	if c.FireTimeout <= c.TestInterval {
		result = multierror.Append(result, fmt.Errorf("fire timeout must be greater than the test interval"))
	}
	if c.AllowScripts && c.ScriptsDir == "" {
		result = multierror.Append(result, fmt.Errorf("scripts directory is required when scripts are enabled"))
	}
	if c.KillScriptSec < 0 {
		result = multierror.Append(result, fmt.Errorf("kill-script-sec must be >= 0"))
	}
	if c.RunDir == "" {
		result = multierror.Append(result, fmt.Errorf("run directory is required"))
	}

	return result.ErrorOrNil()
}
