// Command fence-reset drives a cluster fencing operation from the
// command line: reg/end/clear send the named lockspaces to the local
// wdmd socket; reset posts a RESET/REBOOT event to one or more
// lockspaces and waits for either native-timeout or host-status
// confirmation that the target's watchdog fired (§4.5-4.7, §6.4).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/cscheib/fencewd/internal/config"
	"github.com/cscheib/fencewd/internal/daemon"
	"github.com/cscheib/fencewd/internal/lease"
	"github.com/cscheib/fencewd/internal/logging"
	"github.com/cscheib/fencewd/internal/orchestrator"
	"github.com/cscheib/fencewd/internal/wdmproto"
)

// pollInterval is the orchestrator's poll period, bounded to at most 2s
// by §4.5 step 3.
const pollInterval = 2 * time.Second

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 2
	}
	command := args[0]
	args = args[1:]

	cfg := config.OrchestratorConfig{Command: command}

	fs := flag.NewFlagSet("fence-reset "+command, flag.ContinueOnError)
	fs.BoolVarP(&cfg.UseWatchdog, "watchdog", "w", command == "reset", "use the hardware watchdog for fencing (--watchdog=false disables, for testing only)")
	fs.BoolVarP(&cfg.UseSysrqReboot, "sysrq-reboot", "b", false, "also request a sysrq-triggered soft reboot")
	fs.BoolVarP(&cfg.ResourceMode, "resource-mode", "R", false, "resource leases are in use: DEAD alone proves the fence")
	nativeTimeout := fs.IntP("native-timeout", "t", 0, "override the native-timeout fallback in seconds (0 = default, negative disables)")
	var gen uint64
	fs.Uint64VarP(&gen, "generation", "g", 0, "target generation (0 = any)")
	runDir := fs.String("run-dir", config.DefaultRunDir, "wdmd/lease-engine run directory")
	leaseSocket := fs.String("lease-socket", "", "lease engine socket path (defaults to the standard location)")
	logLevel := fs.String("log-level", "info", "debug, info, warn, or error")
	logFormat := fs.String("log-format", "text", "text or json")
	fs.BoolVarP(&cfg.Debug, "debug", "D", false, "verbose logging")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 2
		}
		fmt.Fprintf(os.Stderr, "fence-reset: %v\n", err)
		return 2
	}

	cfg.TargetGeneration = gen
	if *nativeTimeout != 0 {
		cfg.NativeTimeoutSeconds = *nativeTimeout
	}

	targets, err := parseTargets(fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "fence-reset: %v\n", err)
		return 2
	}
	cfg.Targets = targets

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "fence-reset: invalid arguments: %v\n", err)
		return 2
	}

	if cfg.Debug && *logLevel == "info" {
		*logLevel = "debug"
	}
	logger := logging.Setup(*logLevel, *logFormat)

	switch cfg.Command {
	case "reg", "end", "clear":
		if err := updateLocalDaemon(cfg.Command, cfg.Targets, *runDir); err != nil {
			fmt.Fprintf(os.Stderr, "fence-reset: %v\n", err)
			return 1
		}
		return 0
	case "reset":
		return runReset(cfg, *leaseSocket, logger)
	default:
		fmt.Fprintf(os.Stderr, "fence-reset: unknown command %q\n", cfg.Command)
		return 2
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: fence-reset <reg|end|clear|reset> [flags] lockspace_name[:host_id] ...")
}

// parseTargets parses lockspace_name[:host_id] positional tokens (§6.4).
func parseTargets(tokens []string) ([]config.ResetTarget, error) {
	targets := make([]config.ResetTarget, 0, len(tokens))
	for _, tok := range tokens {
		name, hostStr, hasHost := strings.Cut(tok, ":")
		t := config.ResetTarget{Lockspace: name}
		if hasHost {
			id, err := strconv.Atoi(hostStr)
			if err != nil {
				return nil, fmt.Errorf("bad host id in %q: %w", tok, err)
			}
			t.HostID = id
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// updateLocalDaemon implements the reg/end/clear subcommands, grounded
// in the original's update_local_daemon. It connects to wdmd's client
// socket in runDir (failing if nothing is listening) and writes one
// STATUS header followed by a "command:ls1,ls2,..." payload. Unlike
// reset, it never touches the lease engine. wdmd's STATUS handler does
// not act on the payload, and the reply is not read, so no lockspace
// watch list is configured anywhere by this call.
func updateLocalDaemon(command string, targets []config.ResetTarget, runDir string) error {
	conn, err := daemon.DialSocket(runDir)
	if err != nil {
		return fmt.Errorf("local reset reactor unreachable: %w", err)
	}
	defer conn.Close()

	names := make([]string, len(targets))
	for i, t := range targets {
		names[i] = t.Lockspace
	}
	payload := []byte(command + ":" + strings.Join(names, ","))

	h := wdmproto.NewHeader(wdmproto.CmdStatus, 0, len(payload))
	hdrBuf, err := wdmproto.Encode(h)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	if _, err := conn.Write(hdrBuf); err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("send payload: %w", err)
	}
	return nil
}

// runReset drives a reset operation to completion (§4.5) and maps its
// outcome onto the CLI exit codes from §6.4: 0 proven, 1 failed.
func runReset(cfg config.OrchestratorConfig, leaseSocket string, logger *slog.Logger) int {
	client := lease.NewSocketClient(leaseSocket)
	r := orchestrator.NewReset(client, cfg, logger)

	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		logger.Error("failed to start reset", "run_id", r.RunID(), "err", err)
		return 1
	}
	defer func() {
		if err := r.Close(); err != nil {
			logger.Warn("failed to close event channels", "run_id", r.RunID(), "err", err)
		}
	}()

	outcome, err := r.Run(ctx, pollInterval)
	if err != nil {
		logger.Error("reset operation aborted", "run_id", r.RunID(), "err", err)
		return 1
	}

	switch outcome {
	case orchestrator.OutcomeDone:
		logger.Info("reset done", "run_id", r.RunID())
		return 0
	default:
		for ls, reason := range r.FailReasons() {
			logger.Error("reset failed", "run_id", r.RunID(), "lockspace", ls, "reason", reason)
		}
		return 1
	}
}
