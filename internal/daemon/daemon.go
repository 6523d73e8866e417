// Package daemon wires the watchdog device, the client table, and the
// cross-host script suite into the single cooperative test loop wdmd
// runs (§4.2): every TestInterval, it runs one TEST PASS — reap
// scripts, check for overdue clients — and either pets the hardware
// watchdog or closes it uncleanly to let the next fire timeout elapse.
package daemon

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cscheib/fencewd/internal/clients"
	"github.com/cscheib/fencewd/internal/config"
	"github.com/cscheib/fencewd/internal/scripts"
	"github.com/cscheib/fencewd/internal/watchdogdev"
)

// MaxClients bounds the WDM client table, matching the original's fixed
// slot array.
const MaxClients = 64

// savedPathName is the file wdmd writes its successfully opened device
// path to, so a restart prefers the same device (closes the Open
// Question the original never resolved; see SPEC_FULL.md §3).
const savedPathName = "wdmd.path"

// TestPassResult summarizes one TEST PASS for logging and DUMP_DEBUG.
type TestPassResult struct {
	ScriptFailures int
	ClientFailures int
	Healthy        bool
	DevicePath     string
}

// Daemon is the WDM daemon's non-networking core: the test loop and
// watchdog device management. The connection handlers (Server, in this
// package) call into its client table, scripts suite, and DeviceInfo.
type Daemon struct {
	cfg    *config.DaemonConfig
	logger *slog.Logger

	clients *clients.Table
	scripts *scripts.Suite

	// deviceMu guards device: the test-loop goroutine opens/pets/closes
	// it on every pass, while a per-connection handler goroutine (e.g.
	// DUMP_DEBUG) may read it concurrently. Matches the mutex already
	// used by clients.Table and scripts.Suite for the same reason.
	deviceMu sync.Mutex
	device   *watchdogdev.Device
}

// New builds a Daemon from a validated DaemonConfig.
func New(cfg *config.DaemonConfig, logger *slog.Logger) *Daemon {
	d := &Daemon{
		cfg:     cfg,
		logger:  logger,
		clients: clients.NewTable(MaxClients),
	}
	if cfg.AllowScripts {
		d.scripts = scripts.NewSuite(cfg.ScriptsDir, cfg.KillScriptSec)
	}
	return d
}

// Table returns the client table, for the connection handler to
// register/renew/free clients against.
func (d *Daemon) Table() *clients.Table {
	return d.clients
}

// Open opens the hardware watchdog device, preferring (in order) the
// path saved from a previous run, the operator-supplied path, then the
// default candidates (§4.1 item 1).
func (d *Daemon) Open() error {
	if d.cfg.AllowScripts {
		if err := d.scripts.Load(); err != nil {
			return fmt.Errorf("load scripts: %w", err)
		}
	}

	dev, err := watchdogdev.Open(d.savedPath(), d.cfg.WatchdogPath, d.cfg.FireTimeout)
	if err != nil {
		return fmt.Errorf("open watchdog device: %w", err)
	}
	d.deviceMu.Lock()
	d.device = dev
	d.deviceMu.Unlock()
	if err := d.writeSavedPath(dev.Path()); err != nil {
		d.logger.Warn("failed to persist watchdog device path", "err", err)
	}
	return nil
}

// DeviceInfo returns the open device's path and fire timeout, safe to
// call concurrently with the test loop's pet/closeUnclean/Shutdown.
// Used by DUMP_DEBUG, which runs on a per-connection goroutine.
func (d *Daemon) DeviceInfo() (path string, timeout time.Duration, open bool) {
	d.deviceMu.Lock()
	defer d.deviceMu.Unlock()
	if d.device == nil {
		return "", 0, false
	}
	return d.device.Path(), d.device.Timeout(), true
}

func (d *Daemon) savedPathFile() string {
	return filepath.Join(d.cfg.RunDir, savedPathName)
}

func (d *Daemon) savedPath() string {
	b, err := os.ReadFile(d.savedPathFile())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func (d *Daemon) writeSavedPath(path string) error {
	return os.WriteFile(d.savedPathFile(), []byte(path), 0644)
}

// ReloadScripts re-scans the scripts directory for newly added scripts,
// in response to SIGHUP.
func (d *Daemon) ReloadScripts() error {
	if !d.cfg.AllowScripts {
		return nil
	}
	return d.scripts.Load()
}

// RunTestPass runs one TEST PASS at monotonic second now: it reaps any
// running scripts and checks for overdue clients, then pets the
// watchdog if everything passed, or closes it uncleanly (letting the
// hardware fire timeout run out) if anything failed.
func (d *Daemon) RunTestPass(now int64) TestPassResult {
	scriptFailures := 0
	if d.cfg.AllowScripts {
		d.scripts.Run()
		scriptFailures = d.scripts.Reap()
	}

	clientFailures := len(d.clients.Overdue(now, int64(d.cfg.TestInterval/time.Second)))

	result := TestPassResult{ScriptFailures: scriptFailures, ClientFailures: clientFailures}
	if path, _, open := d.DeviceInfo(); open {
		result.DevicePath = path
	}

	if scriptFailures+clientFailures == 0 {
		if err := d.pet(); err != nil {
			d.logger.Error("failed to pet watchdog", "err", err)
			result.Healthy = false
			return result
		}
		result.Healthy = true
		return result
	}

	d.logger.Warn("test pass failed, closing watchdog uncleanly",
		"script_failures", scriptFailures, "client_failures", clientFailures)
	d.closeUnclean()
	result.Healthy = false
	return result
}

// pet keepalives the open device, reopening it first if a prior failed
// pass closed it uncleanly and this pass has recovered.
func (d *Daemon) pet() error {
	d.deviceMu.Lock()
	defer d.deviceMu.Unlock()

	if d.device == nil {
		dev, err := watchdogdev.Open(d.savedPath(), d.cfg.WatchdogPath, d.cfg.FireTimeout)
		if err != nil {
			return fmt.Errorf("reopen watchdog device: %w", err)
		}
		d.device = dev
	}
	return d.device.Keepalive()
}

func (d *Daemon) closeUnclean() {
	d.deviceMu.Lock()
	defer d.deviceMu.Unlock()

	if d.device == nil {
		return
	}
	if err := d.device.CloseUnclean(); err != nil {
		d.logger.Error("failed to close watchdog device", "err", err)
	}
	d.device = nil
}

// Shutdown disarms the watchdog cleanly. It must not be called while
// ActiveClients() is true.
func (d *Daemon) Shutdown() error {
	d.deviceMu.Lock()
	defer d.deviceMu.Unlock()

	if d.device == nil {
		return nil
	}
	err := d.device.CloseClean()
	d.device = nil
	return err
}

// ActiveClients reports whether any refcounted client is still
// registered; graceful shutdown must be refused while this holds.
func (d *Daemon) ActiveClients() bool {
	return d.clients.ActiveClients()
}

// NextInterval returns the test loop period to use for the next pass,
// given the last pass's outcome.
func (d *Daemon) NextInterval(lastHealthy bool) time.Duration {
	if lastHealthy {
		return d.cfg.TestInterval
	}
	return config.RecoverTestInterval
}
