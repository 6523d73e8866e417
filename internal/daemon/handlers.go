package daemon

import (
	"fmt"
	"strings"

	"github.com/cscheib/fencewd/internal/wdmproto"
)

// statusOK/statusError are the values carried in a reply's DataWord:
// 0 for success, 1 for a request that could not be satisfied. The
// original returns a negative errno; we keep it to a single bit since
// nothing in this protocol distinguishes failure causes on the wire.
const (
	statusOK    = 0
	statusError = 1
)

func (s *Server) handleRegister(payload []byte, pid int32) (wdmproto.Header, []byte) {
	name := string(payload)
	idx, err := s.daemon.clients.Alloc()
	if err != nil {
		s.logger.Warn("register rejected, client table full", "pid", pid)
		h := wdmproto.NewHeader(wdmproto.CmdRegister, 0, 0)
		h.DataWord = statusError
		return h, nil
	}
	if err := s.daemon.clients.Add(idx, 0, pid, name); err != nil {
		s.logger.Error("failed to add registered client", "err", err)
		s.daemon.clients.Free(idx)
		h := wdmproto.NewHeader(wdmproto.CmdRegister, 0, 0)
		h.DataWord = statusError
		return h, nil
	}

	s.logger.Info("client registered", "slot", idx, "pid", pid, "name", name)
	h := wdmproto.NewHeader(wdmproto.CmdRegister, 0, 0)
	h.DataWord = uint64(idx)
	return h, nil
}

func (s *Server) handleRefcount(req wdmproto.Header, on bool) wdmproto.Header {
	idx := int(req.DataWord)
	cmd := wdmproto.CmdRefcountClear
	if on {
		cmd = wdmproto.CmdRefcountSet
	}
	h := wdmproto.NewHeader(cmd, 0, 0)
	if err := s.daemon.clients.SetRefcount(idx, on); err != nil {
		h.DataWord = statusError
		return h
	}
	h.DataWord = statusOK
	return h
}

func (s *Server) handleTestLive(req wdmproto.Header, payload []byte) wdmproto.Header {
	idx := int(req.DataWord)
	h := wdmproto.NewHeader(wdmproto.CmdTestLive, 0, 0)

	renewal, expire, err := decodeTestLivePayload(payload)
	if err != nil {
		h.DataWord = statusError
		return h
	}
	if err := s.daemon.clients.Renew(idx, renewal, expire); err != nil {
		h.DataWord = statusError
		return h
	}
	h.DataWord = statusOK
	return h
}

func (s *Server) handleStatus() (wdmproto.Header, []byte) {
	var b strings.Builder
	for _, c := range s.daemon.clients.Snapshot() {
		fmt.Fprintf(&b, "name=%s pid=%d refcount=%t pid_dead=%t renewal=%d expire=%d\n",
			c.Name, c.Pid, c.Refcount, c.PidDead, c.Renewal, c.Expire)
	}
	payload := []byte(b.String())
	h := wdmproto.NewHeader(wdmproto.CmdStatus, 0, len(payload))
	return h, payload
}

func (s *Server) handleDumpDebug() (wdmproto.Header, []byte) {
	var b strings.Builder
	fmt.Fprintf(&b, "clients:\n")
	for _, c := range s.daemon.clients.Snapshot() {
		fmt.Fprintf(&b, "  name=%s pid=%d refcount=%t pid_dead=%t renewal=%d expire=%d\n",
			c.Name, c.Pid, c.Refcount, c.PidDead, c.Renewal, c.Expire)
	}
	if s.daemon.cfg.AllowScripts {
		fmt.Fprintf(&b, "scripts:\n")
		for _, st := range s.daemon.scripts.Snapshot() {
			fmt.Fprintf(&b, "  name=%s running=%t last_result=%d run=%d fail=%d good=%d kill=%d long=%d\n",
				st.Name, st.Running, st.LastResult, st.RunCount, st.FailCount, st.GoodCount, st.KillCount, st.LongCount)
		}
	}
	if path, timeout, open := s.daemon.DeviceInfo(); open {
		fmt.Fprintf(&b, "watchdog: path=%s timeout=%s\n", path, timeout)
	} else {
		fmt.Fprintf(&b, "watchdog: closed\n")
	}

	payload := []byte(b.String())
	h := wdmproto.NewHeader(wdmproto.CmdDumpDebug, 0, len(payload))
	return h, payload
}
