package daemon

import (
	"log/slog"

	"golang.org/x/sys/unix"
)

// RaisePriority best-effort locks the daemon's memory and switches it to
// SCHED_RR at the highest available priority, so the test loop cannot be
// delayed by paging or by a busy scheduler right when a TEST PASS is
// due. Failure here is logged, not fatal: wdmd is still useful without
// real-time scheduling, just less precisely timed.
func RaisePriority(logger *slog.Logger) {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		logger.Warn("mlockall failed, continuing without locked memory", "err", err)
	}

	maxPrio, err := unix.SchedGetPriorityMax(unix.SCHED_RR)
	if err != nil {
		logger.Warn("could not query max SCHED_RR priority", "err", err)
		return
	}

	param := &unix.SchedParam{Priority: int32(maxPrio)}
	if err := unix.SchedSetscheduler(0, unix.SCHED_RR|unix.SCHED_RESET_ON_FORK, param); err != nil {
		logger.Warn("sched_setscheduler(SCHED_RR) failed, continuing with default scheduling", "err", err)
	}
}
