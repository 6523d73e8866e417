package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/cscheib/fencewd/internal/config"
	"github.com/cscheib/fencewd/internal/lease"
	"github.com/cscheib/fencewd/internal/orchestrator"
	"github.com/cscheib/fencewd/internal/resetevent"
	"github.com/cscheib/fencewd/internal/testutil"
	"github.com/matryer/is"
)

func baseConfig(lockspace string, hostID int) config.OrchestratorConfig {
	return config.OrchestratorConfig{
		Command:     "reset",
		Targets:     []config.ResetTarget{{Lockspace: lockspace, HostID: hostID}},
		UseWatchdog: true,
	}
}

func TestReset_DoneViaHostStatusConfirmation(t *testing.T) {
	is := is.New(t)

	client := lease.NewFakeClient()
	r := orchestrator.NewReset(client, baseConfig("ls0", 2), testutil.Logger(t))

	is.NoErr(r.Start(context.Background()))
	is.Equal(len(client.Sent()), 1)
	is.Equal(client.Sent()[0].Event.TargetHostID, uint64(2))
	is.Equal(client.Sent()[0].Event.Event, resetevent.EventReset)

	client.Deliver("ls0", resetevent.Notification{
		HostEvent:  resetevent.HostEvent{Event: resetevent.EventResetting},
		FromHostID: 2,
	})
	outcome := r.Poll(context.Background(), time.Now())
	is.Equal(outcome, orchestrator.OutcomeWaiting) // resetting observed, not yet dead

	client.SetHosts("ls0", []lease.HostStatus{
		{HostID: 2, Timestamp: 100, IOTimeout: 10, Flags: lease.HostDead},
	})
	outcome = r.Poll(context.Background(), time.Now())
	is.Equal(outcome, orchestrator.OutcomeDone)
}

func TestReset_ResourceMode_DeadAloneIsDone(t *testing.T) {
	is := is.New(t)

	client := lease.NewFakeClient()
	cfg := baseConfig("ls0", 2)
	cfg.ResourceMode = true
	r := orchestrator.NewReset(client, cfg, testutil.Logger(t))
	is.NoErr(r.Start(context.Background()))

	client.SetHosts("ls0", []lease.HostStatus{
		{HostID: 2, Timestamp: 100, IOTimeout: 10, Flags: lease.HostDead},
	})
	outcome := r.Poll(context.Background(), time.Now())
	is.Equal(outcome, orchestrator.OutcomeDone) // resource_mode needs no resetting ack
}

func TestReset_NoReplyFailure_TooManyRenewals(t *testing.T) {
	is := is.New(t)

	client := lease.NewFakeClient()
	r := orchestrator.NewReset(client, baseConfig("ls0", 2), testutil.Logger(t))
	is.NoErr(r.Start(context.Background()))

	ts := int64(100)
	var outcome orchestrator.Outcome
	for i := 0; i < orchestrator.NoReplyRenewalThreshold+1; i++ {
		ts++
		client.SetHosts("ls0", []lease.HostStatus{{HostID: 2, Timestamp: ts, IOTimeout: 10}})
		outcome = r.Poll(context.Background(), time.Now())
	}

	is.Equal(outcome, orchestrator.OutcomeFailed)
	is.Equal(r.FailReasons()["ls0"], "host renewed 4 times with no reply")
}

func TestReset_NoReplyFailure_DeadWithoutResettingAck(t *testing.T) {
	is := is.New(t)

	client := lease.NewFakeClient()
	r := orchestrator.NewReset(client, baseConfig("ls0", 2), testutil.Logger(t))
	is.NoErr(r.Start(context.Background()))

	client.SetHosts("ls0", []lease.HostStatus{
		{HostID: 2, Timestamp: 100, IOTimeout: 10, Flags: lease.HostDead},
	})
	outcome := r.Poll(context.Background(), time.Now())
	is.Equal(outcome, orchestrator.OutcomeFailed) // dead but never acknowledged resetting
	is.Equal(r.FailReasons()["ls0"], "host is dead with no reply")
}

func TestReset_WatchdogFailedToFire(t *testing.T) {
	is := is.New(t)

	client := lease.NewFakeClient()
	r := orchestrator.NewReset(client, baseConfig("ls0", 2), testutil.Logger(t))
	is.NoErr(r.Start(context.Background()))

	client.Deliver("ls0", resetevent.Notification{
		HostEvent:  resetevent.HostEvent{Event: resetevent.EventResetting},
		FromHostID: 2,
	})
	r.Poll(context.Background(), time.Now())

	client.SetHosts("ls0", []lease.HostStatus{{HostID: 2, Timestamp: 1000, IOTimeout: 10}})
	future := time.Now().Add(time.Duration(orchestrator.NativeTimeoutSeconds+1) * time.Second)
	outcome := r.Poll(context.Background(), future)

	is.Equal(outcome, orchestrator.OutcomeFailed)
}

func TestReset_NativeTimeoutDisabled_RestsOnHostStatusOnly(t *testing.T) {
	is := is.New(t)

	cfg := baseConfig("ls0", 2)
	cfg.NativeTimeoutSeconds = -1 // operator disabled native-timeout
	client := lease.NewFakeClient()
	r := orchestrator.NewReset(client, cfg, testutil.Logger(t))
	is.NoErr(r.Start(context.Background()))

	client.Deliver("ls0", resetevent.Notification{
		HostEvent:  resetevent.HostEvent{Event: resetevent.EventResetting},
		FromHostID: 2,
	})
	// The host keeps renewing well past where native-timeout would have
	// fired a verdict; with it disabled the reset just keeps waiting.
	client.SetHosts("ls0", []lease.HostStatus{{HostID: 2, Timestamp: 1000, IOTimeout: 10}})
	future := time.Now().Add(time.Duration(orchestrator.NativeTimeoutSeconds+1) * time.Second)
	outcome := r.Poll(context.Background(), future)

	is.Equal(outcome, orchestrator.OutcomeWaiting)
}

func TestReset_NativeTimeoutDisabled_AppliesToWholeOperation(t *testing.T) {
	is := is.New(t)

	// Two lockspaces: ls0 reports a mismatched io_timeout, which per
	// §4.6 must disable the native-timeout fallback for every
	// lockspace in the operation, not just ls0.
	cfg := config.OrchestratorConfig{
		Command:      "reset",
		Targets:      []config.ResetTarget{{Lockspace: "ls0", HostID: 2}, {Lockspace: "ls1", HostID: 3}},
		UseWatchdog:  true,
		ResourceMode: true,
	}
	client := lease.NewFakeClient()
	r := orchestrator.NewReset(client, cfg, testutil.Logger(t))
	is.NoErr(r.Start(context.Background()))

	client.Deliver("ls1", resetevent.Notification{
		HostEvent:  resetevent.HostEvent{Event: resetevent.EventResetting},
		FromHostID: 3,
	})
	client.SetHosts("ls0", []lease.HostStatus{{HostID: 2, Timestamp: 100, IOTimeout: 5, Flags: lease.HostDead}})
	client.SetHosts("ls1", []lease.HostStatus{{HostID: 3, Timestamp: 200, IOTimeout: 10}})

	outcome := r.Poll(context.Background(), time.Now())
	is.Equal(outcome, orchestrator.OutcomeWaiting) // ls0 done via resource_mode, ls1 still pending

	// Advance past where native-timeout would fire a verdict for ls1.
	// ls1's own io_timeout matches the reference value, so a
	// per-lockspace eligibility flag would wrongly let native-timeout
	// declare it done here; the mismatch observed on ls0 must still
	// apply operation-wide.
	future := time.Now().Add(time.Duration(orchestrator.NativeTimeoutSeconds+1) * time.Second)
	outcome = r.Poll(context.Background(), future)
	is.Equal(outcome, orchestrator.OutcomeWaiting)
}

func TestReset_Close(t *testing.T) {
	is := is.New(t)

	client := lease.NewFakeClient()
	r := orchestrator.NewReset(client, baseConfig("ls0", 2), testutil.Logger(t))
	is.NoErr(r.Start(context.Background()))
	is.NoErr(r.Close())
}
