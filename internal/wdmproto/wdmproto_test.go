package wdmproto_test

import (
	"testing"

	"github.com/cscheib/fencewd/internal/wdmproto"
	"github.com/matryer/is"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	is := is.New(t)

	h := wdmproto.NewHeader(wdmproto.CmdTestLive, wdmproto.FlagCurGeneration, 16)
	h.DataWord = 42
	h.Data2Word = 7

	buf, err := wdmproto.Encode(h)
	is.NoErr(err)
	is.Equal(len(buf), wdmproto.HeaderSize)

	got, err := wdmproto.Decode(buf)
	is.NoErr(err)
	is.Equal(got.Cmd, wdmproto.CmdTestLive)
	is.Equal(got.CmdFlags, uint32(wdmproto.FlagCurGeneration))
	is.Equal(got.DataWord, uint64(42))
	is.Equal(got.Data2Word, uint64(7))
	is.Equal(got.TotalLength, uint32(wdmproto.HeaderSize+16))
}

func TestDecode_RejectsBadMagic(t *testing.T) {
	is := is.New(t)

	h := wdmproto.NewHeader(wdmproto.CmdRegister, 0, 0)
	buf, err := wdmproto.Encode(h)
	is.NoErr(err)
	buf[0] ^= 0xff

	_, err = wdmproto.Decode(buf)
	is.True(err != nil) // corrupted magic rejected
}

func TestDecode_RejectsShortBuffer(t *testing.T) {
	is := is.New(t)

	_, err := wdmproto.Decode(make([]byte, wdmproto.HeaderSize-1))
	is.True(err != nil)
}

func TestCmd_String(t *testing.T) {
	is := is.New(t)
	is.Equal(wdmproto.CmdStatus.String(), "STATUS")
	is.Equal(wdmproto.Cmd(99).String(), "Cmd(99)")
}
