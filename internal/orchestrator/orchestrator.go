// Package orchestrator drives a cluster fencing operation: it asks the
// lease engine to deliver a reset event to one or more target hosts
// across one or more lockspaces, then watches for either an explicit
// host-status confirmation or the native-timeout fallback to declare
// the fence done, while independently failing fast on no-reply
// thresholds (§4.5-4.7).
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/cscheib/fencewd/internal/config"
	"github.com/cscheib/fencewd/internal/lease"
	"github.com/cscheib/fencewd/internal/resetevent"
)

const (
	// NativeTimeoutSeconds is how long after a host acknowledges
	// RESETTING the native-timeout check waits before judging, from the
	// host's renewal timestamps, whether its watchdog fired.
	NativeTimeoutSeconds = 90
	// NativeRenewalSeconds is how much further a resetting host may
	// have renewed, measured from when resetting began, before its
	// watchdog is considered to have failed to fire.
	NativeRenewalSeconds = 70
	// NoReplyRenewalThreshold is how many renewal-timestamp changes a
	// host may show, without ever acknowledging RESETTING, before the
	// reset is declared a no-reply failure.
	NoReplyRenewalThreshold = 4
	// RestingNotDeadThreshold bounds how long a lockspace may sit in
	// the RESETTING-acknowledged-but-not-yet-confirmed-dead state
	// before the reset gives up on it.
	RestingNotDeadThreshold = 300 * time.Second

	// nativeTimeoutIOMarker is the io_timeout value the native-timeout
	// math above assumes; a host reporting a different io_timeout
	// invalidates the native-timeout fallback for the whole operation.
	nativeTimeoutIOMarker = 10
)

// Outcome is the result of one poll of a Reset, or of the whole
// operation.
type Outcome int

const (
	OutcomeWaiting Outcome = iota
	OutcomeDone
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDone:
		return "done"
	case OutcomeFailed:
		return "failed"
	default:
		return "waiting"
	}
}

type lockspaceState struct {
	name   string
	hostID uint64

	ch lease.EventChannel

	isResetting bool
	isDead      bool
	isFree      bool
	renewals    int

	haveTimestamp bool
	lastTimestamp int64

	resettingBeginMono      time.Time
	resettingBeginTimestamp int64

	outcome    Outcome
	failReason string
}

// Reset is one in-flight fencing operation.
type Reset struct {
	client lease.Client
	cfg    config.OrchestratorConfig
	logger *slog.Logger
	runID  string

	states []*lockspaceState

	nativeTimeoutSeconds int
	nativeRenewalSeconds int

	// nativeTimeoutEligible is shared across every lockspace: §4.6 says
	// an io_timeout mismatch observed on ANY host disables the
	// native-timeout fallback for "the whole operation", not just the
	// lockspace that observed it.
	nativeTimeoutEligible bool

	watchdogFailedToFire bool
}

// NewReset builds a Reset ready to Start against cfg's targets.
func NewReset(client lease.Client, cfg config.OrchestratorConfig, logger *slog.Logger) *Reset {
	nativeTimeout := NativeTimeoutSeconds
	nativeRenewal := NativeRenewalSeconds
	switch {
	case cfg.NativeTimeoutSeconds < 0:
		// Operator explicitly disabled the native-timeout fallback;
		// checkNativeTimeout treats nativeTimeoutSeconds == 0 as off.
		nativeTimeout = 0
		nativeRenewal = 0
	case cfg.NativeTimeoutSeconds > 0:
		nativeTimeout = cfg.NativeTimeoutSeconds
		nativeRenewal = nativeTimeout - 20
	}

	states := make([]*lockspaceState, 0, len(cfg.Targets))
	for _, t := range cfg.Targets {
		states = append(states, &lockspaceState{
			name:   t.Lockspace,
			hostID: uint64(t.HostID),
		})
	}

	return &Reset{
		client:                client,
		cfg:                   cfg,
		logger:                logger,
		runID:                 uuid.NewString(),
		states:                states,
		nativeTimeoutSeconds:  nativeTimeout,
		nativeRenewalSeconds:  nativeRenewal,
		nativeTimeoutEligible: true,
	}
}

// RunID is the correlation id attached to every log line this Reset
// emits.
func (r *Reset) RunID() string {
	return r.runID
}

// Start registers for reset-event notifications on every target
// lockspace and asks the lease engine to deliver the reset request to
// it. Lockspaces that fail to register or fail to deliver are marked
// failed immediately; Start still returns successfully for the rest,
// and returns an error naming every failure only when no lockspace
// remains.
func (r *Reset) Start(ctx context.Context) error {
	var result *multierror.Error

	event := resetevent.RequestEvent(r.cfg.UseWatchdog, r.cfg.UseSysrqReboot)

	for _, s := range r.states {
		ch, err := r.client.RegisterEvent(ctx, s.name)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: register event: %w", s.name, err))
			s.outcome = OutcomeFailed
			s.failReason = "failed to register for event notifications"
			continue
		}
		s.ch = ch

		he := resetevent.HostEvent{
			Event:             event,
			TargetHostID:      s.hostID,
			TargetGeneration:  r.cfg.TargetGeneration,
			CurGenerationOnly: r.cfg.TargetGeneration != 0,
		}
		if err := r.client.SetEvent(ctx, s.name, he); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: set event: %w", s.name, err))
			s.outcome = OutcomeFailed
			s.failReason = "failed to deliver reset event"
			continue
		}

		r.logger.Info("reset event sent",
			"run_id", r.runID, "lockspace", s.name, "host_id", s.hostID, "event", event.String())
	}

	for _, s := range r.states {
		if s.outcome == OutcomeWaiting {
			return nil
		}
	}
	return result.ErrorOrNil()
}

// Poll runs one iteration of the state machine and returns the overall
// outcome so far.
func (r *Reset) Poll(ctx context.Context, now time.Time) Outcome {
	for _, s := range r.states {
		if s.outcome != OutcomeWaiting {
			continue
		}
		r.drainEvents(s)
		r.checkHostStatus(ctx, s)
		r.checkNativeTimeout(s, now)
		if s.outcome == OutcomeWaiting {
			r.checkNoReplyFailure(s, now)
		}
	}

	return r.overallOutcome()
}

func (r *Reset) overallOutcome() Outcome {
	if r.watchdogFailedToFire {
		return OutcomeFailed
	}

	anyWaiting := false
	anyFailed := false
	for _, s := range r.states {
		switch s.outcome {
		case OutcomeWaiting:
			anyWaiting = true
		case OutcomeFailed:
			anyFailed = true
		}
	}

	if anyWaiting {
		return OutcomeWaiting
	}
	if anyFailed {
		return OutcomeFailed
	}
	return OutcomeDone
}

func (r *Reset) drainEvents(s *lockspaceState) {
	if s.ch == nil {
		return
	}
	for {
		n, err := s.ch.GetEvent()
		if err != nil {
			return
		}
		if n.FromHostID != s.hostID {
			continue
		}
		if (n.IsResetting() || n.IsRebooting()) && !s.isResetting {
			s.isResetting = true
			s.resettingBeginMono = time.Now()
			s.resettingBeginTimestamp = s.lastTimestamp
			r.logger.Info("reset acknowledged", "run_id", r.runID, "lockspace", s.name, "host_id", s.hostID)
		}
	}
}

func (r *Reset) checkHostStatus(ctx context.Context, s *lockspaceState) {
	hosts, err := r.client.GetHosts(ctx, s.name)
	if err != nil {
		r.logger.Warn("get hosts failed", "run_id", r.runID, "lockspace", s.name, "err", err)
		return
	}

	for _, h := range hosts {
		if h.HostID != s.hostID {
			continue
		}

		if s.haveTimestamp && h.Timestamp != s.lastTimestamp {
			s.renewals++
		}
		s.lastTimestamp = h.Timestamp
		s.haveTimestamp = true

		if h.IOTimeout != nativeTimeoutIOMarker {
			r.nativeTimeoutEligible = false
		}

		if h.Flags&lease.HostDead != 0 {
			s.isDead = true
		}
		if h.Flags&lease.HostFree != 0 {
			s.isFree = true
		}

		if r.cfg.ResourceMode {
			if s.isDead {
				s.outcome = OutcomeDone
			}
		} else if s.isDead && s.isResetting {
			s.outcome = OutcomeDone
		}
	}
}

// checkNativeTimeout implements the fallback success/failure path for a
// resetting host when no further host-status confirmation arrives: once
// NativeTimeoutSeconds of wall-clock time has passed since the host
// acknowledged RESETTING, its last observed renewal timestamp should sit
// close to the timestamp it had when resetting began (its watchdog
// should have stopped it around NativeRenewalSeconds in). A renewal
// timestamp that kept advancing well past that point means the watchdog
// never fired. An io_timeout mismatch observed on any target lockspace
// disables this fallback for the whole operation (§4.6), not just the
// lockspace that observed it.
func (r *Reset) checkNativeTimeout(s *lockspaceState, now time.Time) {
	if s.outcome != OutcomeWaiting || !s.isResetting || !r.nativeTimeoutEligible {
		return
	}
	if r.nativeTimeoutSeconds == 0 || s.resettingBeginMono.IsZero() {
		return
	}
	if now.Sub(s.resettingBeginMono) < time.Duration(r.nativeTimeoutSeconds)*time.Second {
		return
	}
	if !s.haveTimestamp {
		return
	}

	gap := s.lastTimestamp - s.resettingBeginTimestamp
	if gap > int64(r.nativeRenewalSeconds) {
		r.watchdogFailedToFire = true
		r.logger.Error("watchdog failed to fire", "run_id", r.runID, "lockspace", s.name, "host_id", s.hostID, "renewal_gap_seconds", gap)
		return
	}

	s.outcome = OutcomeDone
	r.logger.Info("reset done by native timeout", "run_id", r.runID, "lockspace", s.name, "host_id", s.hostID)
}

// checkNoReplyFailure covers the case where the target never
// acknowledged RESETTING at all: if it has since died or gone free
// anyway, or has renewed NoReplyRenewalThreshold times with no
// acknowledgement, the event almost certainly never reached it, so the
// reset is declared failed rather than assumed successful. A host that
// did acknowledge RESETTING but has neither been confirmed dead nor hit
// the native timeout within RestingNotDeadThreshold also fails.
func (r *Reset) checkNoReplyFailure(s *lockspaceState, now time.Time) {
	if s.isResetting {
		if !s.resettingBeginMono.IsZero() && now.Sub(s.resettingBeginMono) > RestingNotDeadThreshold {
			s.outcome = OutcomeFailed
			s.failReason = "resetting acknowledged but never confirmed dead"
		}
		return
	}

	switch {
	case s.isDead:
		s.outcome = OutcomeFailed
		s.failReason = "host is dead with no reply"
	case s.isFree:
		s.outcome = OutcomeFailed
		s.failReason = "host is free with no reply"
	case s.renewals >= NoReplyRenewalThreshold:
		s.outcome = OutcomeFailed
		s.failReason = fmt.Sprintf("host renewed %d times with no reply", s.renewals)
	}
}

// Run polls until the operation is done or failed, or ctx is cancelled.
func (r *Reset) Run(ctx context.Context, pollInterval time.Duration) (Outcome, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if outcome := r.Poll(ctx, time.Now()); outcome != OutcomeWaiting {
			return outcome, nil
		}

		select {
		case <-ctx.Done():
			return OutcomeFailed, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close ends every lockspace's event registration.
func (r *Reset) Close() error {
	var result *multierror.Error
	for _, s := range r.states {
		if s.ch == nil {
			continue
		}
		if err := s.ch.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return result.ErrorOrNil()
}

// FailReasons returns a human-readable reason for each failed
// lockspace, keyed by lockspace name.
func (r *Reset) FailReasons() map[string]string {
	out := make(map[string]string)
	for _, s := range r.states {
		if s.outcome == OutcomeFailed && s.failReason != "" {
			out[s.name] = s.failReason
		}
	}
	return out
}
