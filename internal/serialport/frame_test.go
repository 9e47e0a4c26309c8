package serialport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Frame{
		{Type: 0x01, Payload: nil},
		{Type: 0x02, Payload: []byte{0xAA, 0x00, 0xFF}},
		{Type: 0xFE, Payload: make([]byte, 200)},
	}
	for _, c := range cases {
		wire := Encode(c)
		got, n, err := Decode(wire)
		require.NoError(t, err)
		assert.Equal(t, len(wire), n)
		assert.Equal(t, c.Type, got.Type)
		assert.Equal(t, c.Payload, got.Payload)
	}
}

func TestDecodeNeverCrashesOnArbitraryBytes(t *testing.T) {
	inputs := [][]byte{
		nil,
		{0x00},
		{startByte},
		{startByte, 0x05},
		{startByte, 0x00, 0x01, 0x02},
		{0xFF, 0xFF, 0xFF, 0xFF},
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() {
			_, n, err := Decode(in)
			if err == nil {
				assert.Greater(t, n, 0)
			} else {
				assert.GreaterOrEqual(t, n, 0)
			}
		})
	}
}

func TestChecksumRejectionResyncs(t *testing.T) {
	wire := Encode(Frame{Type: 0x10, Payload: []byte{0x01, 0x02}})
	flipped := append([]byte(nil), wire...)
	flipped[len(flipped)-1] ^= 0xFF // flip the checksum byte

	_, n, err := Decode(flipped)
	assert.ErrorIs(t, err, ErrChecksum)
	assert.Equal(t, 1, n)

	// After discarding the bad byte, a stream decoder keeps scanning and
	// finds the next valid start byte; here dropping 1 byte corrupts the
	// framing further up the chain, so append a second clean frame and
	// confirm the decoder resyncs onto it rather than getting stuck.
	var d StreamDecoder
	d.Feed(flipped)
	d.Feed(Encode(Frame{Type: 0x20, Payload: []byte{0x09}}))

	sawChecksumErr := false
	var found Frame
	for i := 0; i < len(flipped)+10; i++ {
		f, ok, perr := d.Pop()
		if !ok {
			break
		}
		if perr != nil {
			sawChecksumErr = true
			continue
		}
		found = f
		break
	}
	assert.True(t, sawChecksumErr)
	assert.Equal(t, byte(0x20), found.Type)
}

func TestDecodeIncompleteWaitsForMoreData(t *testing.T) {
	wire := Encode(Frame{Type: 0x03, Payload: []byte{1, 2, 3}})
	_, n, err := Decode(wire[:len(wire)-1])
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.Equal(t, 0, n)
}
