package daemon

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// encodeTestLivePayload packs the renewal/expire pair a TEST_LIVE
// request carries alongside its header.
func encodeTestLivePayload(renewal, expire int64) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, renewal)
	binary.Write(buf, binary.LittleEndian, expire)
	return buf.Bytes()
}

func decodeTestLivePayload(b []byte) (renewal, expire int64, err error) {
	if len(b) < 16 {
		return 0, 0, fmt.Errorf("short TEST_LIVE payload: %d bytes", len(b))
	}
	r := bytes.NewReader(b[:16])
	binary.Read(r, binary.LittleEndian, &renewal)
	binary.Read(r, binary.LittleEndian, &expire)
	return renewal, expire, nil
}
