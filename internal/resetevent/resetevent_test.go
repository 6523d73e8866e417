package resetevent_test

import (
	"testing"

	"github.com/cscheib/fencewd/internal/resetevent"
	"github.com/matryer/is"
)

func TestEvent_String(t *testing.T) {
	is := is.New(t)

	is.Equal(resetevent.Event(0).String(), "NONE")
	is.Equal((resetevent.EventReset | resetevent.EventResetting).String(), "RESET|RESETTING")
	is.Equal((resetevent.EventReboot | resetevent.EventRebooting).String(), "REBOOT|REBOOTING")
}

func TestRequestEvent(t *testing.T) {
	is := is.New(t)

	is.Equal(resetevent.RequestEvent(true, false), resetevent.EventReset)
	is.Equal(resetevent.RequestEvent(true, true), resetevent.EventReset|resetevent.EventReboot)
	is.Equal(resetevent.RequestEvent(false, true), resetevent.EventReboot)
	is.Equal(resetevent.RequestEvent(false, false), resetevent.Event(0))
}

func TestNotification_IsResettingRebooting(t *testing.T) {
	is := is.New(t)

	n := resetevent.Notification{HostEvent: resetevent.HostEvent{Event: resetevent.EventResetting}}
	is.True(n.IsResetting())
	is.True(!n.IsRebooting())

	n2 := resetevent.Notification{HostEvent: resetevent.HostEvent{Event: resetevent.EventRebooting}}
	is.True(n2.IsRebooting())
	is.True(!n2.IsResetting())
}
