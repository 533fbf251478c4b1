package portpool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireWithinRange(t *testing.T) {
	p := New(4000, 4010, 1)

	for i := 0; i < 10; i++ {
		port, ok := p.Acquire()
		require.True(t, ok)
		require.GreaterOrEqual(t, port, 4000)
		require.Less(t, port, 4010)
	}
}

func TestAcquireUnique(t *testing.T) {
	p := New(4000, 4010, 1)

	seen := make(map[int]struct{})
	for i := 0; i < 10; i++ {
		port, ok := p.Acquire()
		require.True(t, ok)
		_, dup := seen[port]
		require.False(t, dup)
		seen[port] = struct{}{}
	}
}

func TestAcquireExhausted(t *testing.T) {
	p := New(4000, 4002, 1)

	_, ok := p.Acquire()
	require.True(t, ok)
	_, ok = p.Acquire()
	require.True(t, ok)

	_, ok = p.Acquire()
	require.False(t, ok)
}

func TestReleaseMakesPortAvailable(t *testing.T) {
	p := New(4000, 4001, 1)

	port, ok := p.Acquire()
	require.True(t, ok)
	require.Equal(t, 4000, port)

	_, ok = p.Acquire()
	require.False(t, ok)

	p.Release(port)

	port, ok = p.Acquire()
	require.True(t, ok)
	require.Equal(t, 4000, port)
}

func TestReleaseUnknownPortIsNoOp(t *testing.T) {
	p := New(4000, 4010, 1)

	p.Release(9999)
	require.Equal(t, 0, p.Allocated())

	_, ok := p.Acquire()
	require.True(t, ok)
	require.Equal(t, 1, p.Allocated())
}

func TestReversedRange(t *testing.T) {
	p := New(4010, 4000, 1)

	port, ok := p.Acquire()
	require.True(t, ok)
	require.GreaterOrEqual(t, port, 4000)
	require.Less(t, port, 4010)
}
