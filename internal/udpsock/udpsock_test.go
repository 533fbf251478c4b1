package udpsock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rtspsource/internal/portpool"
)

func TestServerClientPair(t *testing.T) {
	pool := portpool.New(24000, 24100, 1)
	a := NewAllocator(pool)

	srv, err := a.ServerSocket()
	require.NoError(t, err)
	defer srv.Close()

	cli, err := a.ClientSocket(srv.Port())
	require.NoError(t, err)
	defer cli.Close()

	require.NotEqual(t, srv.Port(), cli.Port())
	require.Equal(t, srv.Port(), cli.PeerPort())
	require.True(t, cli.IsClient())
	require.False(t, srv.IsClient())

	recv := make(chan []byte, 1)
	srv.AttachReader(func(buf []byte) {
		b := make([]byte, len(buf))
		copy(b, buf)
		recv <- b
	})

	_, err = cli.Write([]byte{0x01, 0x02, 0x03})
	require.NoError(t, err)

	select {
	case buf := <-recv:
		require.Equal(t, []byte{0x01, 0x02, 0x03}, buf)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestDetachReaderStopsCallbacks(t *testing.T) {
	pool := portpool.New(24100, 24200, 1)
	a := NewAllocator(pool)

	srv, err := a.ServerSocket()
	require.NoError(t, err)
	defer srv.Close()

	cli, err := a.ClientSocket(srv.Port())
	require.NoError(t, err)
	defer cli.Close()

	recv := make(chan struct{}, 16)
	srv.AttachReader(func(_ []byte) {
		recv <- struct{}{}
	})

	srv.DetachReader()

	_, err = cli.Write([]byte{0x01})
	require.NoError(t, err)

	select {
	case <-recv:
		t.Fatal("callback fired after detach")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestCloseIsIdempotentAndReleasesPort(t *testing.T) {
	pool := portpool.New(24200, 24300, 1)
	a := NewAllocator(pool)

	srv, err := a.ServerSocket()
	require.NoError(t, err)
	require.Equal(t, 1, pool.Allocated())

	srv.Close()
	srv.Close()
	require.Equal(t, 0, pool.Allocated())
}

func TestServerSocketPoolExhausted(t *testing.T) {
	pool := portpool.New(24300, 24301, 1)
	a := NewAllocator(pool)

	srv, err := a.ServerSocket()
	require.NoError(t, err)
	defer srv.Close()

	_, err = a.ServerSocket()
	require.Equal(t, ErrBindFailed{}, err)
}
