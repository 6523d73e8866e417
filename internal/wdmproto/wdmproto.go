// Package wdmproto implements the fixed-size header framing used on the
// WDM local socket (§4.3, §6.2): every request and reply is exactly one
// Header, optionally followed by TotalLength-HeaderSize bytes of opaque
// payload (a client name, a STATUS/DUMP_DEBUG text dump, and so on).
package wdmproto

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Magic identifies a well-formed frame; any other value is a protocol
// error rather than a malformed request.
const Magic uint32 = 0x57444d31 // "WDM1"

// ProtocolVersion is bumped on any wire-incompatible change.
const ProtocolVersion uint32 = 1

// Cmd is a WDM opcode.
type Cmd uint32

const (
	CmdRegister Cmd = iota + 1
	CmdRefcountSet
	CmdRefcountClear
	CmdTestLive
	CmdStatus
	CmdDumpDebug
)

func (c Cmd) String() string {
	switch c {
	case CmdRegister:
		return "REGISTER"
	case CmdRefcountSet:
		return "REFCOUNT_SET"
	case CmdRefcountClear:
		return "REFCOUNT_CLEAR"
	case CmdTestLive:
		return "TEST_LIVE"
	case CmdStatus:
		return "STATUS"
	case CmdDumpDebug:
		return "DUMP_DEBUG"
	default:
		return fmt.Sprintf("Cmd(%d)", uint32(c))
	}
}

// CmdFlag bits ride in Header.CmdFlags.
type CmdFlag uint32

const (
	// FlagCurGeneration restricts a SETEV-style request to the sender's
	// current generation, so a stale request from a prior lease cannot
	// be replayed against a host that has since renewed.
	FlagCurGeneration CmdFlag = 1 << 0
)

// Header is the fixed 8-field frame every WDM request and reply opens
// with. All integers are encoded little-endian.
type Header struct {
	Magic       uint32
	Protocol    uint32
	Cmd         Cmd
	CmdFlags    uint32
	TotalLength uint32
	DataWord    uint64
	Data2Word   uint64
	Reserved    uint32
}

// HeaderSize is the encoded size of a Header, in bytes.
const HeaderSize = 4 + 4 + 4 + 4 + 4 + 8 + 8 + 4

// NewHeader builds a Header with Magic/Protocol already filled in.
func NewHeader(cmd Cmd, flags CmdFlag, payloadLen int) Header {
	return Header{
		Magic:       Magic,
		Protocol:    ProtocolVersion,
		Cmd:         cmd,
		CmdFlags:    uint32(flags),
		TotalLength: uint32(HeaderSize + payloadLen),
	}
}

// Encode serializes h into exactly HeaderSize bytes.
func Encode(h Header) ([]byte, error) {
	buf := new(bytes.Buffer)
	fields := []any{h.Magic, h.Protocol, uint32(h.Cmd), h.CmdFlags, h.TotalLength, h.DataWord, h.Data2Word, h.Reserved}
	for _, f := range fields {
		if err := binary.Write(buf, binary.LittleEndian, f); err != nil {
			return nil, fmt.Errorf("encode header: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// Decode parses a Header from the first HeaderSize bytes of b and
// validates Magic/Protocol.
func Decode(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("short header: got %d bytes, need %d", len(b), HeaderSize)
	}

	var h Header
	var cmd uint32
	r := bytes.NewReader(b[:HeaderSize])
	for _, f := range []any{&h.Magic, &h.Protocol, &cmd, &h.CmdFlags, &h.TotalLength, &h.DataWord, &h.Data2Word, &h.Reserved} {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return Header{}, fmt.Errorf("decode header: %w", err)
		}
	}
	h.Cmd = Cmd(cmd)

	if h.Magic != Magic {
		return Header{}, fmt.Errorf("bad magic %#x, want %#x", h.Magic, Magic)
	}
	if h.Protocol != ProtocolVersion {
		return Header{}, fmt.Errorf("unsupported protocol version %d, want %d", h.Protocol, ProtocolVersion)
	}
	if h.TotalLength < HeaderSize {
		return Header{}, fmt.Errorf("total length %d shorter than header", h.TotalLength)
	}

	return h, nil
}
