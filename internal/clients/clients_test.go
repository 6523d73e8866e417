package clients_test

import (
	"testing"

	"github.com/cscheib/fencewd/internal/clients"
	"github.com/matryer/is"
)

func TestAlloc_FillsAndRejectsWhenFull(t *testing.T) {
	is := is.New(t)

	table := clients.NewTable(2)

	idx0, err := table.Alloc()
	is.NoErr(err)
	is.Equal(idx0, 0)

	idx1, err := table.Alloc()
	is.NoErr(err)
	is.Equal(idx1, 1)

	_, err = table.Alloc()
	is.True(err != nil) // table full
}

func TestAddAndRenew(t *testing.T) {
	is := is.New(t)

	table := clients.NewTable(1)
	idx, err := table.Alloc()
	is.NoErr(err)

	is.NoErr(table.Add(idx, 9, 4242, "test-client"))
	is.NoErr(table.Renew(idx, 100, 170))

	c, ok := table.Get(idx)
	is.True(ok)
	is.Equal(c.Pid, int32(4242))
	is.Equal(c.Name, "test-client")
	is.Equal(c.Renewal, int64(100))
	is.Equal(c.Expire, int64(170))
}

func TestPidDead_FreesSlotWithNoActiveExpire(t *testing.T) {
	is := is.New(t)

	table := clients.NewTable(1)
	idx, _ := table.Alloc()
	is.NoErr(table.Add(idx, 9, 1, "never-renewed"))

	is.NoErr(table.PidDead(idx)) // expire is 0: no lease to protect

	_, ok := table.Get(idx)
	is.True(!ok) // slot freed immediately
}

func TestPidDead_OrphanArmsSlotWithActiveExpire(t *testing.T) {
	is := is.New(t)

	table := clients.NewTable(1)
	idx, _ := table.Alloc()
	is.NoErr(table.Add(idx, 9, 1, "leased"))
	is.NoErr(table.Renew(idx, 100, 170))

	is.NoErr(table.PidDead(idx))

	c, ok := table.Get(idx)
	is.True(ok)           // slot stays used
	is.True(c.PidDead)    // marked dead
	is.Equal(c.Expire, int64(170)) // deadline untouched

	is.True(!table.Reap(idx, 169)) // not yet due
	is.True(table.Reap(idx, 170))  // due: reaped

	_, ok = table.Get(idx)
	is.True(!ok)
}

func TestActiveClients_RequiresRefcount(t *testing.T) {
	is := is.New(t)

	table := clients.NewTable(1)
	idx, _ := table.Alloc()
	is.NoErr(table.Add(idx, 9, 1, "c"))

	is.True(!table.ActiveClients()) // no refcount yet

	is.NoErr(table.SetRefcount(idx, true))
	is.True(table.ActiveClients())

	is.NoErr(table.SetRefcount(idx, false))
	is.True(!table.ActiveClients())
}

func TestOverdue_IgnoresPidDeadSlots(t *testing.T) {
	is := is.New(t)

	table := clients.NewTable(2)
	idxA, _ := table.Alloc()
	is.NoErr(table.Add(idxA, 9, 1, "a"))
	is.NoErr(table.Renew(idxA, 0, 50))

	idxB, _ := table.Alloc()
	is.NoErr(table.Add(idxB, 9, 2, "b"))
	is.NoErr(table.Renew(idxB, 0, 50))
	is.NoErr(table.PidDead(idxB))

	overdue := table.Overdue(50, 10)
	is.Equal(len(overdue), 1) // only the live, non-pid-dead slot counts
	is.Equal(overdue[0], idxA)
}

func TestOverdue_EarlyFailBoundary(t *testing.T) {
	is := is.New(t)

	table := clients.NewTable(1)
	idx, _ := table.Alloc()
	is.NoErr(table.Add(idx, 9, 1, "c"))
	is.NoErr(table.Renew(idx, 0, 100)) // expire = 100, test interval = 10

	is.Equal(len(table.Overdue(89, 10)), 0)  // one second before the early boundary
	is.Equal(len(table.Overdue(90, 10)), 1)  // expire - TEST_INTERVAL: early fail
	is.Equal(len(table.Overdue(100, 10)), 1) // expire itself: also fails
}
