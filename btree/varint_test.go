package btree

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVarintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 16383, 16384, 1 << 20, 1<<32 - 1, 1 << 40, 1<<64 - 1}

	for _, v := range values {
		t.Run(fmt.Sprintf("value_%d", v), func(t *testing.T) {
			buf := make([]byte, maxVarintLen)
			n := putUvarint(buf, v)
			require.Equal(t, varintSize(v), n)

			decoded, n2 := uvarint(buf)
			require.Equal(t, n, n2)
			require.Equal(t, v, decoded)
		})
	}
}

func TestVarintSmallValuesFitOneByte(t *testing.T) {
	for v := uint64(0); v < 128; v++ {
		require.Equal(t, 1, varintSize(v))
	}
	require.Equal(t, 2, varintSize(128))
}

func TestUvarintRejectsTruncatedInput(t *testing.T) {
	// A continuation byte with nothing following is an incomplete varint.
	buf := []byte{0x80}
	_, n := uvarint(buf)
	require.Equal(t, 0, n)
}

func TestUvarintRejectsOverlongInput(t *testing.T) {
	buf := make([]byte, maxVarintLen+1)
	for i := range buf {
		buf[i] = 0x80
	}
	_, n := uvarint(buf)
	require.Less(t, n, 0)
}
