// Package clients implements the WDM client table (§3, §4.3): the set of
// local processes that have registered for watchdog coverage, their
// renewal/expire deadlines, and the orphan-arming rule that keeps a dead
// client's slot fencing-eligible until its lease would have expired
// anyway.
package clients

import (
	"fmt"
	"sync"
)

// MaxNameLen mirrors the fixed client name field in the wire protocol.
const MaxNameLen = 64

// Client is one registered WDM client slot.
type Client struct {
	Used     bool
	FD       int
	Pid      int32
	PidDead  bool
	Refcount bool
	Renewal  int64 // monotonic seconds of the client's last renewal
	Expire   int64 // monotonic seconds after which the client is overdue
	Name     string
}

// Table is the fixed-size slot table the WDM test loop scans every pass.
type Table struct {
	mu    sync.Mutex
	slots []Client
}

// NewTable allocates a table with the given number of slots.
func NewTable(size int) *Table {
	return &Table{slots: make([]Client, size)}
}

// Alloc finds a free slot and marks it used, returning its index. A slot
// is free only if it is unused; a pid-dead slot that still holds an
// active expire deadline is not free until that deadline is reaped.
func (t *Table) Alloc() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.slots {
		if !t.slots[i].Used {
			t.slots[i] = Client{Used: true}
			return i, nil
		}
	}
	return -1, fmt.Errorf("client table full (%d slots)", len(t.slots))
}

// Add registers the peer on an allocated slot. It is the Go analogue of
// the original's client_add: it stores the accepted connection's fd, the
// peer pid learned via SO_PEERCRED, and the client-supplied name.
func (t *Table) Add(idx int, fd int, pid int32, name string) error {
	if len(name) > MaxNameLen {
		name = name[:MaxNameLen]
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if idx < 0 || idx >= len(t.slots) || !t.slots[idx].Used {
		return fmt.Errorf("slot %d is not allocated", idx)
	}
	t.slots[idx].FD = fd
	t.slots[idx].Pid = pid
	t.slots[idx].Name = name
	return nil
}

// Renew updates a slot's renewal/expire timestamps, as happens on every
// successful TEST_LIVE or lease-renewal round trip from the client.
func (t *Table) Renew(idx int, renewal, expire int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if idx < 0 || idx >= len(t.slots) || !t.slots[idx].Used {
		return fmt.Errorf("slot %d is not allocated", idx)
	}
	t.slots[idx].Renewal = renewal
	t.slots[idx].Expire = expire
	return nil
}

// SetRefcount sets or clears the refcount flag for a slot (WDMD_CMD_
// REFCOUNT_SET / REFCOUNT_CLEAR). A refcounted client keeps the watchdog
// armed even across a graceful wdmd restart request.
func (t *Table) SetRefcount(idx int, on bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if idx < 0 || idx >= len(t.slots) || !t.slots[idx].Used {
		return fmt.Errorf("slot %d is not allocated", idx)
	}
	t.slots[idx].Refcount = on
	return nil
}

// PidDead marks a slot's owning process as gone. This is the orphan-
// arming rule (§3): if the client never had an active expire deadline
// (Expire == 0, meaning it registered but never renewed), the slot is
// freed immediately, since there was nothing left to protect. Otherwise
// the slot stays used and its Expire deadline stands: the watchdog must
// keep covering it until that deadline passes, because the dead client
// might have been mid-transaction when it was killed, and resetting the
// host at a random earlier point would make the orphaned deadline
// meaningless. Refcount is untouched either way.
func (t *Table) PidDead(idx int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if idx < 0 || idx >= len(t.slots) || !t.slots[idx].Used {
		return fmt.Errorf("slot %d is not allocated", idx)
	}

	if t.slots[idx].Expire == 0 {
		t.slots[idx] = Client{}
		return nil
	}

	t.slots[idx].PidDead = true
	return nil
}

// Reap frees a slot once its orphaned deadline (Expire) has passed,
// given the current monotonic time. It is a no-op, returning false, for
// a slot that is not both used and pid-dead, or whose deadline has not
// yet passed.
func (t *Table) Reap(idx int, now int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if idx < 0 || idx >= len(t.slots) {
		return false
	}
	s := &t.slots[idx]
	if !s.Used || !s.PidDead || now < s.Expire {
		return false
	}
	*s = Client{}
	return true
}

// Free releases a slot unconditionally, e.g. when a freshly allocated
// slot could not be registered.
func (t *Table) Free(idx int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx >= 0 && idx < len(t.slots) {
		t.slots[idx] = Client{}
	}
}

// Get returns a copy of a slot's current state.
func (t *Table) Get(idx int) (Client, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx < 0 || idx >= len(t.slots) || !t.slots[idx].Used {
		return Client{}, false
	}
	return t.slots[idx], true
}

// ActiveClients reports whether any slot is still used and refcounted.
// wdmd must not honor a graceful shutdown request while this is true
// (§4.2): a refcounted client is relying on the watchdog to keep firing
// even if wdmd itself were to exit uncleanly.
func (t *Table) ActiveClients() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.slots {
		if s.Used && s.Refcount {
			return true
		}
	}
	return false
}

// Overdue returns the indexes of every used, non-pid-dead slot counted
// as failed in a TEST PASS run at now with the given test interval
// (§4.2 step 3): a slot fails not only once now has reached its Expire
// deadline, but one full test interval earlier than that. This early
// failure is mandatory, not an optimization: it guarantees the last
// keepalive the hardware saw happened at least one test interval before
// the client's true expire time, so the device cannot fire later than
// fire_timeout after that true expire.
func (t *Table) Overdue(now, testIntervalSeconds int64) []int {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []int
	for i, s := range t.slots {
		if s.Used && !s.PidDead && s.Expire != 0 && now >= s.Expire-testIntervalSeconds {
			out = append(out, i)
		}
	}
	return out
}

// Snapshot returns a copy of every used slot, for STATUS/DUMP_DEBUG
// responses.
func (t *Table) Snapshot() []Client {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Client
	for _, s := range t.slots {
		if s.Used {
			out = append(out, s)
		}
	}
	return out
}
