package daemon

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"

	"github.com/cscheib/fencewd/internal/clients"
	"github.com/cscheib/fencewd/internal/wdmproto"
)

// socketName is the WDM local socket's filename within RunDir.
const socketName = "wdmd.sock"

// Server accepts client connections on the WDM local socket and
// dispatches each request to the Daemon's client table.
type Server struct {
	daemon   *Daemon
	logger   *slog.Logger
	listener *net.UnixListener
	path     string
}

// Listen creates and chmods/chowns the WDM local socket.
func Listen(d *Daemon, logger *slog.Logger) (*Server, error) {
	path := filepath.Join(d.cfg.RunDir, socketName)
	_ = os.Remove(path)

	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, fmt.Errorf("resolve socket address: %w", err)
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}

	if err := os.Chmod(path, 0660); err != nil {
		logger.Warn("failed to chmod socket", "path", path, "err", err)
	}
	if d.cfg.SocketGroup != "" {
		if g, err := user.LookupGroup(d.cfg.SocketGroup); err == nil {
			gid, convErr := strconv.Atoi(g.Gid)
			if convErr == nil {
				if err := os.Chown(path, -1, gid); err != nil {
					logger.Warn("failed to chown socket", "path", path, "group", d.cfg.SocketGroup, "err", err)
				}
			}
		} else {
			logger.Warn("socket group not found", "group", d.cfg.SocketGroup, "err", err)
		}
	}

	return &Server{daemon: d, logger: logger, listener: ln, path: path}, nil
}

// DialSocket connects to a running wdmd's client socket in runDir, for
// one-shot clients like the --dump CLI mode that don't hold a
// persistent registration.
func DialSocket(runDir string) (net.Conn, error) {
	path := filepath.Join(runDir, socketName)
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	return conn, nil
}

// Close closes the listener and removes the socket file.
func (s *Server) Close() error {
	err := s.listener.Close()
	_ = os.Remove(s.path)
	return err
}

// Accept blocks for the next incoming connection.
func (s *Server) Accept() (*net.UnixConn, error) {
	return s.listener.AcceptUnix()
}

// Handle services one connection to completion: it may carry several
// requests, one per call, until the client closes it.
func (s *Server) Handle(conn *net.UnixConn) {
	defer conn.Close()

	pid, _, _, err := clients.PeerCredentials(conn)
	if err != nil {
		s.logger.Warn("could not read peer credentials", "err", err)
	}

	for {
		hdrBuf := make([]byte, wdmproto.HeaderSize)
		if _, err := io.ReadFull(conn, hdrBuf); err != nil {
			return
		}
		req, err := wdmproto.Decode(hdrBuf)
		if err != nil {
			s.logger.Warn("bad request header", "err", err)
			return
		}

		var payload []byte
		if n := int(req.TotalLength) - wdmproto.HeaderSize; n > 0 {
			payload = make([]byte, n)
			if _, err := io.ReadFull(conn, payload); err != nil {
				return
			}
		}

		replyHdr, replyPayload := s.dispatch(req, payload, int32(pid))
		replyHdr.TotalLength = uint32(wdmproto.HeaderSize + len(replyPayload))
		replyBuf, err := wdmproto.Encode(replyHdr)
		if err != nil {
			s.logger.Error("failed to encode reply", "err", err)
			return
		}
		if _, err := conn.Write(replyBuf); err != nil {
			return
		}
		if len(replyPayload) > 0 {
			if _, err := conn.Write(replyPayload); err != nil {
				return
			}
		}
	}
}

// dispatch answers one request. Each request gets exactly one reply,
// header then payload, before the connection reads its next request —
// the original's single-threaded request/reply turn.
func (s *Server) dispatch(req wdmproto.Header, payload []byte, pid int32) (wdmproto.Header, []byte) {
	switch req.Cmd {
	case wdmproto.CmdRegister:
		return s.handleRegister(payload, pid)
	case wdmproto.CmdRefcountSet:
		return s.handleRefcount(req, true), nil
	case wdmproto.CmdRefcountClear:
		return s.handleRefcount(req, false), nil
	case wdmproto.CmdTestLive:
		return s.handleTestLive(req, payload), nil
	case wdmproto.CmdStatus:
		return s.handleStatus()
	case wdmproto.CmdDumpDebug:
		return s.handleDumpDebug()
	default:
		return wdmproto.NewHeader(req.Cmd, 0, 0), nil
	}
}
