package daemon

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Run drives the daemon's main loop: a ticker fires the TEST PASS, an
// accept goroutine feeds incoming connections back onto this
// goroutine's select, and SIGTERM/SIGINT are honored only once
// ActiveClients is false (§4.2). It is built from channels and select,
// not a raw poll(2) call. Each accepted connection is then served by
// its own Handle goroutine, so requests run concurrently with the test
// pass rather than in turn with it; the client table and the watchdog
// device are shared through their mutexes.
func Run(ctx context.Context, d *Daemon, srv *Server, logger *slog.Logger) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	connCh := make(chan *net.UnixConn)
	acceptErrCh := make(chan error, 1)
	go func() {
		for {
			conn, err := srv.Accept()
			if err != nil {
				acceptErrCh <- err
				return
			}
			connCh <- conn
		}
	}()

	ticker := time.NewTicker(d.cfg.TestInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return shutdown(d, logger)

		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				if err := d.ReloadScripts(); err != nil {
					logger.Warn("failed to reload scripts", "err", err)
				}
			default:
				if d.ActiveClients() {
					logger.Warn("ignoring shutdown signal: active refcounted clients remain", "signal", sig)
					continue
				}
				return shutdown(d, logger)
			}

		case conn := <-connCh:
			go srv.Handle(conn)

		case err := <-acceptErrCh:
			return err

		case <-ticker.C:
			now := time.Now().Unix()
			result := d.RunTestPass(now)
			logger.Debug("test pass complete",
				"healthy", result.Healthy, "script_failures", result.ScriptFailures, "client_failures", result.ClientFailures)
			ticker.Reset(d.NextInterval(result.Healthy))
		}
	}
}

func shutdown(d *Daemon, logger *slog.Logger) error {
	if d.ActiveClients() {
		logger.Warn("shutting down with active refcounted clients; watchdog stays armed")
		return nil
	}
	logger.Info("shutting down, disarming watchdog")
	return d.Shutdown()
}
