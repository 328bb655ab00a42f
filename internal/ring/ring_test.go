package ring

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuffer_RoundTrip(t *testing.T) {
	b := New(64)
	payload := []byte("hello world, this is a test payload")

	n := b.Write(payload)
	require.Equal(t, len(payload), n)

	out := make([]byte, len(payload))
	n = b.Read(out)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, out)
}

func TestBuffer_CapacityBound(t *testing.T) {
	b := New(16)
	n := b.Write([]byte("0123456789ABCDEF")) // 16 bytes, one more than usable
	require.LessOrEqual(t, n, b.Capacity()-1)
	require.LessOrEqual(t, b.Len(), b.Capacity()-1)
}

func TestBuffer_Wrap(t *testing.T) {
	b := New(16)

	require.Equal(t, 10, b.Write([]byte("ABCDEFGHIJ")))

	out := make([]byte, 8)
	require.Equal(t, 8, b.Read(out))
	require.Equal(t, "ABCDEFGH", string(out))

	require.Equal(t, 8, b.Write([]byte("KLMNOPQR")))

	out = make([]byte, 10)
	n := b.Read(out)
	require.Equal(t, 10, n)
	require.Equal(t, "IJKLMNOPQR", string(out))

	n = b.Read(make([]byte, 10))
	require.Equal(t, 0, n)
}

func TestBuffer_ReadOnlyRejectsWrites(t *testing.T) {
	b := NewReadOnly(16)
	require.Equal(t, 0, b.Write([]byte("x")))
}

func TestBuffer_ConcurrentProducerConsumer(t *testing.T) {
	b := New(64)
	payload := make([]byte, 16384)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	go func() {
		sent := 0
		for sent < len(payload) {
			sent += b.Write(payload[sent:])
		}
	}()

	got := make([]byte, 0, len(payload))
	buf := make([]byte, 32)
	for len(got) < len(payload) {
		n := b.Read(buf)
		got = append(got, buf[:n]...)
	}
	require.Equal(t, payload, got)
}
