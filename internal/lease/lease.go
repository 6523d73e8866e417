// Package lease defines the orchestrator's view of the external lease
// engine (§6.1): registering for and sending reset-event notifications,
// and reading the live/dead/free/renewal status of every host holding a
// lease on a lockspace.
package lease

import (
	"context"
	"errors"

	"github.com/cscheib/fencewd/internal/resetevent"
)

// ErrNoEvent is returned by EventChannel.GetEvent when no notification
// is currently pending, mirroring sanlock_get_event's -EAGAIN.
var ErrNoEvent = errors.New("lease: no event pending")

// HostFlag describes a host's standing within a lockspace, as reported
// by GetHosts.
type HostFlag uint32

const (
	// HostLive means the host is actively renewing its lease.
	HostLive HostFlag = 1 << iota
	// HostDead means the host's lease has expired and no renewal has
	// been observed since.
	HostDead
	// HostFree means no host currently holds this lease slot.
	HostFree
)

// HostStatus is one host's entry in a lockspace's membership table.
type HostStatus struct {
	HostID     uint64
	Generation uint64
	Timestamp  int64 // monotonic seconds of the last observed renewal
	IOTimeout  int   // seconds; drives the native-timeout fallback (§4.6)
	Flags      HostFlag
}

// Client is the orchestrator's API to the lease engine. Concrete
// implementations talk to a running lease-engine process over a local
// socket (SocketClient); tests use an in-memory FakeClient.
type Client interface {
	// RegisterEvent opens a channel that will deliver reset-event
	// notifications targeting this host on lockspace.
	RegisterEvent(ctx context.Context, lockspace string) (EventChannel, error)
	// SetEvent asks the lease engine to deliver he to the targeted
	// host(s) on lockspace's next lease renewal.
	SetEvent(ctx context.Context, lockspace string, he resetevent.HostEvent) error
	// GetHosts returns the current status of every host holding a
	// lease on lockspace.
	GetHosts(ctx context.Context, lockspace string) ([]HostStatus, error)
}

// EventChannel delivers reset-event notifications registered via
// Client.RegisterEvent.
type EventChannel interface {
	// GetEvent returns the next pending notification, or ErrNoEvent if
	// none is currently available. Non-blocking.
	GetEvent() (resetevent.Notification, error)
	// Close ends the registration (sanlock_end_event).
	Close() error
}
