package lease

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/cscheib/fencewd/internal/resetevent"
)

// DefaultSocketPath is where the lease engine listens, by convention.
const DefaultSocketPath = "/run/fencewd/lease.sock"

// smCmd is a lease-engine request opcode, distinct from wdmproto's
// opcodes: this is a different daemon with a different, smaller command
// set (register/set/get-hosts only), grounded in client.c's
// SM_CMD_REG_EVENT/SM_CMD_SET_EVENT/SM_CMD_GET_HOSTS family.
type smCmd uint32

const (
	smCmdRegEvent smCmd = iota + 1
	smCmdSetEvent
	smCmdGetHosts
)

// smHeader is the lease engine's own fixed request/reply header
// (magic, version, cmd, cmd_flags, length, data, data2), grounded in
// client.c's struct sm_header / send_header.
type smHeader struct {
	Magic    uint32
	Version  uint32
	Cmd      uint32
	CmdFlags uint32
	Length   uint32
	Data     int64
	Data2    int64
}

const smMagic uint32 = 0x53414e4c // "SANL"
const smVersion uint32 = 1
const smHeaderSize = 4 + 4 + 4 + 4 + 4 + 8 + 8

func encodeSMHeader(h smHeader) []byte {
	buf := new(bytes.Buffer)
	for _, f := range []any{h.Magic, h.Version, h.Cmd, h.CmdFlags, h.Length, h.Data, h.Data2} {
		binary.Write(buf, binary.LittleEndian, f)
	}
	return buf.Bytes()
}

func decodeSMHeader(b []byte) (smHeader, error) {
	if len(b) < smHeaderSize {
		return smHeader{}, fmt.Errorf("short lease reply: %d bytes", len(b))
	}
	var h smHeader
	r := bytes.NewReader(b[:smHeaderSize])
	for _, f := range []any{&h.Magic, &h.Version, &h.Cmd, &h.CmdFlags, &h.Length, &h.Data, &h.Data2} {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return smHeader{}, err
		}
	}
	if h.Magic != smMagic {
		return smHeader{}, fmt.Errorf("bad lease reply magic %#x", h.Magic)
	}
	return h, nil
}

// SocketClient talks to a lease engine over a Unix domain socket.
type SocketClient struct {
	socketPath  string
	dialTimeout time.Duration
}

// NewSocketClient returns a Client dialing socketPath. An empty path
// uses DefaultSocketPath.
func NewSocketClient(socketPath string) *SocketClient {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	return &SocketClient{socketPath: socketPath, dialTimeout: 5 * time.Second}
}

func (c *SocketClient) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: c.dialTimeout}
	return d.DialContext(ctx, "unix", c.socketPath)
}

func (c *SocketClient) roundTrip(ctx context.Context, cmd smCmd, payload []byte, data, data2 int64) (smHeader, []byte, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return smHeader{}, nil, fmt.Errorf("dial lease engine: %w", err)
	}
	defer conn.Close()

	h := smHeader{Magic: smMagic, Version: smVersion, Cmd: uint32(cmd), Length: uint32(smHeaderSize + len(payload)), Data: data, Data2: data2}
	if _, err := conn.Write(encodeSMHeader(h)); err != nil {
		return smHeader{}, nil, fmt.Errorf("send lease header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := conn.Write(payload); err != nil {
			return smHeader{}, nil, fmt.Errorf("send lease payload: %w", err)
		}
	}

	replyHdr := make([]byte, smHeaderSize)
	if _, err := readFull(conn, replyHdr); err != nil {
		return smHeader{}, nil, fmt.Errorf("read lease reply header: %w", err)
	}
	reply, err := decodeSMHeader(replyHdr)
	if err != nil {
		return smHeader{}, nil, err
	}

	var replyPayload []byte
	if n := int(reply.Length) - smHeaderSize; n > 0 {
		replyPayload = make([]byte, n)
		if _, err := readFull(conn, replyPayload); err != nil {
			return smHeader{}, nil, fmt.Errorf("read lease reply payload: %w", err)
		}
	}

	return reply, replyPayload, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// SetEvent implements Client.
func (c *SocketClient) SetEvent(ctx context.Context, lockspace string, he resetevent.HostEvent) error {
	var flags uint32
	if he.CurGenerationOnly {
		flags = 1
	}
	_, _, err := c.roundTrip(ctx, smCmdSetEvent, []byte(lockspace), int64(he.Event)|int64(flags)<<32, int64(he.TargetHostID))
	if err != nil {
		return fmt.Errorf("set event on %s: %w", lockspace, err)
	}
	return nil
}

// RegisterEvent implements Client. The returned channel owns the
// connection for the lifetime of the registration.
func (c *SocketClient) RegisterEvent(ctx context.Context, lockspace string) (EventChannel, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("register event on %s: %w", lockspace, err)
	}

	payload := []byte(lockspace)
	h := smHeader{Magic: smMagic, Version: smVersion, Cmd: uint32(smCmdRegEvent), Length: uint32(smHeaderSize + len(payload))}
	if _, err := conn.Write(encodeSMHeader(h)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send register header: %w", err)
	}
	if _, err := conn.Write(payload); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send register payload: %w", err)
	}

	ack := make([]byte, smHeaderSize)
	if _, err := readFull(conn, ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read register ack: %w", err)
	}
	if _, err := decodeSMHeader(ack); err != nil {
		conn.Close()
		return nil, err
	}

	return &socketEventChannel{conn: conn}, nil
}

// GetHosts implements Client.
func (c *SocketClient) GetHosts(ctx context.Context, lockspace string) ([]HostStatus, error) {
	_, payload, err := c.roundTrip(ctx, smCmdGetHosts, []byte(lockspace), 0, 0)
	if err != nil {
		return nil, fmt.Errorf("get hosts for %s: %w", lockspace, err)
	}

	const entrySize = 8 + 8 + 8 + 4 + 4
	if len(payload)%entrySize != 0 {
		return nil, fmt.Errorf("malformed host status payload: %d bytes", len(payload))
	}

	hosts := make([]HostStatus, 0, len(payload)/entrySize)
	for off := 0; off < len(payload); off += entrySize {
		r := bytes.NewReader(payload[off : off+entrySize])
		var hs HostStatus
		var ioTimeout, flags uint32
		binary.Read(r, binary.LittleEndian, &hs.HostID)
		binary.Read(r, binary.LittleEndian, &hs.Generation)
		binary.Read(r, binary.LittleEndian, &hs.Timestamp)
		binary.Read(r, binary.LittleEndian, &ioTimeout)
		binary.Read(r, binary.LittleEndian, &flags)
		hs.IOTimeout = int(ioTimeout)
		hs.Flags = HostFlag(flags)
		hosts = append(hosts, hs)
	}
	return hosts, nil
}

type socketEventChannel struct {
	conn net.Conn
}

// GetEvent performs a non-blocking read of the registration connection
// for a pending notification frame.
func (e *socketEventChannel) GetEvent() (resetevent.Notification, error) {
	_ = e.conn.SetReadDeadline(time.Now())
	hdr := make([]byte, smHeaderSize)
	n, err := e.conn.Read(hdr)
	if err != nil || n < smHeaderSize {
		_ = e.conn.SetReadDeadline(time.Time{})
		return resetevent.Notification{}, ErrNoEvent
	}
	_ = e.conn.SetReadDeadline(time.Time{})

	h, err := decodeSMHeader(hdr)
	if err != nil {
		return resetevent.Notification{}, err
	}

	return resetevent.Notification{
		HostEvent: resetevent.HostEvent{
			Event:        resetevent.Event(h.Data),
			TargetHostID: uint64(h.Data2),
		},
		FromHostID: uint64(h.Data2),
	}, nil
}

func (e *socketEventChannel) Close() error {
	return e.conn.Close()
}
