// Command wdmd is the watchdog multiplexer daemon: it aggregates
// liveness commitments from registered local clients, cross-host
// scripts, and the hardware watchdog device into a single cooperative
// test loop (§4.2), and honors a shutdown request only once every
// refcounted client has released its hold on the watchdog (§5).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/cscheib/fencewd/internal/config"
	"github.com/cscheib/fencewd/internal/daemon"
	"github.com/cscheib/fencewd/internal/logging"
	"github.com/cscheib/fencewd/internal/watchdogdev"
	"github.com/cscheib/fencewd/internal/wdmproto"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.DefaultDaemonConfig()

	fs := flag.NewFlagSet("wdmd", flag.ContinueOnError)
	fs.BoolVarP(&cfg.Debug, "debug", "D", cfg.Debug, "run without forking, log at debug level")
	fs.BoolVarP(&cfg.HighPriority, "high-priority", "H", cfg.HighPriority, "request SCHED_RR scheduling and locked memory")
	fs.StringVarP(&cfg.SocketGroup, "group", "G", cfg.SocketGroup, "group that owns the client socket")
	fs.BoolVarP(&cfg.AllowScripts, "scripts", "S", cfg.AllowScripts, "run cross-host test scripts")
	fs.StringVarP(&cfg.ScriptsDir, "script-dir", "s", cfg.ScriptsDir, "directory of cross-host test scripts")
	fs.DurationVarP(&cfg.KillScriptSec, "kill-script-sec", "k", cfg.KillScriptSec, "SIGKILL scripts running longer than this (0 disables)")
	fs.StringVarP(&cfg.WatchdogPath, "watchdog-path", "w", cfg.WatchdogPath, "operator-preferred watchdog device path")
	fs.DurationVar(&cfg.FireTimeout, "fire-timeout", cfg.FireTimeout, "hardware watchdog fire timeout")
	fs.DurationVar(&cfg.TestInterval, "test-interval", cfg.TestInterval, "WDM test loop period")
	fs.StringVar(&cfg.RunDir, "run-dir", cfg.RunDir, "pidfile / saved-path / socket directory")
	fs.BoolVar(&cfg.Probe, "probe", cfg.Probe, "open and configure the watchdog device, disarm it, print its path, and exit")
	fs.BoolVarP(&cfg.Dump, "dump", "d", cfg.Dump, "connect to a running wdmd, print its debug state, and exit")
	logLevel := fs.String("log-level", "info", "debug, info, warn, or error")
	logFormat := fs.String("log-format", "text", "text or json")

	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			return 2
		}
		fmt.Fprintf(os.Stderr, "wdmd: %v\n", err)
		return 2
	}

	if cfg.Debug && *logLevel == "info" {
		*logLevel = "debug"
	}
	logger := logging.Setup(*logLevel, *logFormat)

	if cfg.Probe {
		return runProbe(cfg, logger)
	}
	if cfg.Dump {
		return runDump(cfg, logger)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "wdmd: invalid configuration: %v\n", err)
		return 2
	}

	if err := runDaemon(cfg, logger); err != nil {
		logger.Error("wdmd exiting on error", "err", err)
		return 1
	}
	return 0
}

// runProbe implements the one-shot --probe mode (§4.1): open and
// configure the first usable device, disarm it with a clean close, and
// report its path without entering the service loop.
func runProbe(cfg *config.DaemonConfig, logger *slog.Logger) int {
	path, err := watchdogdev.Probe("", cfg.WatchdogPath, cfg.FireTimeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wdmd: probe failed: %v\n", err)
		return 1
	}
	fmt.Println(path)
	return 0
}

// runDump connects to a running wdmd's client socket and prints its
// DUMP_DEBUG state, mirroring the original's one-shot connect/send/print
// debug mode.
func runDump(cfg *config.DaemonConfig, logger *slog.Logger) int {
	conn, err := daemon.DialSocket(cfg.RunDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wdmd: dump failed: %v\n", err)
		return 1
	}
	defer conn.Close()

	h := wdmproto.NewHeader(wdmproto.CmdDumpDebug, 0, 0)
	buf, err := wdmproto.Encode(h)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wdmd: encode request: %v\n", err)
		return 1
	}
	if _, err := conn.Write(buf); err != nil {
		fmt.Fprintf(os.Stderr, "wdmd: send request: %v\n", err)
		return 1
	}

	hdrBuf := make([]byte, wdmproto.HeaderSize)
	if _, err := readFull(conn, hdrBuf); err != nil {
		fmt.Fprintf(os.Stderr, "wdmd: read reply header: %v\n", err)
		return 1
	}
	reply, err := wdmproto.Decode(hdrBuf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wdmd: decode reply: %v\n", err)
		return 1
	}
	payload := make([]byte, int(reply.TotalLength)-wdmproto.HeaderSize)
	if len(payload) > 0 {
		if _, err := readFull(conn, payload); err != nil {
			fmt.Fprintf(os.Stderr, "wdmd: read reply payload: %v\n", err)
			return 1
		}
	}
	fmt.Print(string(payload))
	return 0
}

func readFull(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// runDaemon acquires the sentinel and pidfile, opens the watchdog
// device, starts the client socket, and drives the test loop until
// shutdown is both requested and safe (§5).
func runDaemon(cfg *config.DaemonConfig, logger *slog.Logger) error {
	sentinel, err := daemon.AcquireSentinel()
	if err != nil {
		return fmt.Errorf("startup refused: %w", err)
	}
	defer func() {
		if err := sentinel.Release(); err != nil {
			logger.Warn("failed to release sentinel", "err", err)
		}
	}()

	pidFile, err := daemon.AcquirePidFile(cfg.RunDir)
	if err != nil {
		return fmt.Errorf("startup refused: %w", err)
	}
	defer func() {
		if err := pidFile.Release(); err != nil {
			logger.Warn("failed to release pidfile", "err", err)
		}
	}()

	if cfg.HighPriority {
		daemon.RaisePriority(logger)
	}

	d := daemon.New(cfg, logger)
	if err := d.Open(); err != nil {
		return fmt.Errorf("open watchdog: %w", err)
	}

	srv, err := daemon.Listen(d, logger)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer srv.Close()

	logger.Info("wdmd started", "version", Version,
		"fire_timeout", cfg.FireTimeout, "test_interval", cfg.TestInterval, "run_dir", cfg.RunDir)

	// Run's own signal.Notify handles SIGTERM/SIGINT/SIGHUP internally,
	// honoring shutdown only once no refcounted client remains (§5); ctx
	// here is for tests that need to cancel the loop directly.
	return daemon.Run(context.Background(), d, srv, logger)
}
