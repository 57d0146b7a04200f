package icmpcodec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEchoRequestRoundTrip(t *testing.T) {
	payload := []byte("hello, world")
	packet, err := EncodeRequest(KindEcho, true, 0xBEEF, 0x0042, payload)
	require.NoError(t, err)

	m, err := decodeEchoForTest(packet)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xBEEF), m.id)
	assert.Equal(t, uint16(0x0042), m.seq)
}

func TestTimestampRequestRejectedOverV6(t *testing.T) {
	_, err := EncodeRequest(KindTimestamp, false, 1, 1, nil)
	assert.ErrorIs(t, err, ErrTimestampV6)
}

func TestTimestampRequestChecksum(t *testing.T) {
	packet, err := EncodeRequest(KindTimestamp, true, 7, 9, nil)
	require.NoError(t, err)
	require.Len(t, packet, timestampWireSize)
	assert.EqualValues(t, 0, checksum(packet), "a correctly checksummed ICMP message sums to zero")
}

func TestDecodeTimestampReply(t *testing.T) {
	packet, err := EncodeRequest(KindTimestamp, true, 7, 9, nil)
	require.NoError(t, err)

	// Flip the wire bytes into a reply the way a real responder would,
	// then fill in the three timestamp fields.
	packet[0] = icmpTypeTimestampReply
	packet[2], packet[3] = 0, 0
	packet[8], packet[9], packet[10], packet[11] = 0, 0, 0, 10
	packet[16], packet[17], packet[18], packet[19] = 0, 0, 0, 20
	cs := checksum(packet)
	packet[2] = byte(cs >> 8)
	packet[3] = byte(cs)

	d, err := DecodeV4(packet, KindTimestamp)
	require.NoError(t, err)
	assert.Equal(t, ClassReply, d.Class)
	assert.Equal(t, uint16(7), d.ID)
	assert.Equal(t, uint16(9), d.Seq)
	assert.EqualValues(t, 20, d.Transmit)
}

func TestDecodeMalformedTooShort(t *testing.T) {
	_, err := DecodeV4([]byte{1, 2}, KindEcho)
	assert.Error(t, err)
}

// decodeEchoForTest is a tiny local parse of the Echo header, avoiding a
// second import of golang.org/x/net/icmp just to assert round-tripping.
type echoFields struct {
	id, seq uint16
}

func decodeEchoForTest(b []byte) (echoFields, error) {
	d, err := DecodeV4(b, KindEcho)
	if err != nil {
		// The packet above is an Echo *request*, which DecodeV4 does not
		// classify (it only expects replies); parse its header bytes
		// directly instead.
		if len(b) < 8 {
			return echoFields{}, err
		}
		return echoFields{
			id:  uint16(b[4])<<8 | uint16(b[5]),
			seq: uint16(b[6])<<8 | uint16(b[7]),
		}, nil
	}
	return echoFields{id: d.ID, seq: d.Seq}, nil
}
