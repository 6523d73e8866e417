package lease

import (
	"context"
	"sync"

	"github.com/cscheib/fencewd/internal/resetevent"
)

// FakeClient is an in-memory Client for orchestrator tests: no socket,
// no external process.
type FakeClient struct {
	mu     sync.Mutex
	hosts  map[string][]HostStatus
	events map[string][]resetevent.Notification
	sent   []SentEvent
}

// SentEvent records one SetEvent call for test assertions.
type SentEvent struct {
	Lockspace string
	Event     resetevent.HostEvent
}

// NewFakeClient returns an empty FakeClient.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		hosts:  make(map[string][]HostStatus),
		events: make(map[string][]resetevent.Notification),
	}
}

// SetHosts seeds the host status table a test wants GetHosts to return.
func (f *FakeClient) SetHosts(lockspace string, hosts []HostStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hosts[lockspace] = hosts
}

// Deliver queues a notification a test wants a registered EventChannel
// to surface on its next GetEvent call.
func (f *FakeClient) Deliver(lockspace string, n resetevent.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[lockspace] = append(f.events[lockspace], n)
}

// Sent returns every SetEvent call made so far.
func (f *FakeClient) Sent() []SentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SentEvent, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *FakeClient) SetEvent(_ context.Context, lockspace string, he resetevent.HostEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, SentEvent{Lockspace: lockspace, Event: he})
	return nil
}

func (f *FakeClient) RegisterEvent(_ context.Context, lockspace string) (EventChannel, error) {
	return &fakeEventChannel{client: f, lockspace: lockspace}, nil
}

func (f *FakeClient) GetHosts(_ context.Context, lockspace string) ([]HostStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hosts := f.hosts[lockspace]
	out := make([]HostStatus, len(hosts))
	copy(out, hosts)
	return out, nil
}

type fakeEventChannel struct {
	client    *FakeClient
	lockspace string
	closed    bool
}

func (c *fakeEventChannel) GetEvent() (resetevent.Notification, error) {
	c.client.mu.Lock()
	defer c.client.mu.Unlock()

	queue := c.client.events[c.lockspace]
	if len(queue) == 0 {
		return resetevent.Notification{}, ErrNoEvent
	}
	n := queue[0]
	c.client.events[c.lockspace] = queue[1:]
	return n, nil
}

func (c *fakeEventChannel) Close() error {
	c.closed = true
	return nil
}
