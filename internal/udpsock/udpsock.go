// Package udpsock creates loopback UDP sockets backed by a port pool.
package udpsock

import (
	"context"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"rtspsource/internal/portpool"
)

const (
	readBufferSize = 512
	loopbackIP     = "127.0.0.1"
)

// ErrBindFailed is returned when no pooled port could be bound.
type ErrBindFailed struct{}

// Error implements the error interface.
func (e ErrBindFailed) Error() string {
	return "unable to bind an UDP socket on any pooled port"
}

// ErrConnectFailed is returned when no pooled port could be connected.
type ErrConnectFailed struct{}

// Error implements the error interface.
func (e ErrConnectFailed) Error() string {
	return "unable to connect an UDP socket on any pooled port"
}

// ReadFunc is called on the socket's reader goroutine for every
// received datagram. The buffer is only valid for the duration of
// the call.
type ReadFunc func(buf []byte)

// Allocator creates sockets whose local ports are drawn from a Pool.
type Allocator struct {
	pool *portpool.Pool
}

// NewAllocator allocates an Allocator.
func NewAllocator(pool *portpool.Pool) *Allocator {
	return &Allocator{pool: pool}
}

// Socket is a loopback UDP endpoint plus its pooled port.
type Socket struct {
	pool     *portpool.Pool
	port     int
	peerPort int
	client   bool
	conn     *net.UDPConn

	mutex      sync.Mutex
	closed     bool
	readerStop chan struct{}
	readerDone chan struct{}
}

func reuseAddr(_ string, _ string, c syscall.RawConn) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return serr
}

// ServerSocket binds a datagram socket to the loopback interface on a
// pooled port, with address reuse enabled. The bound port is stable for
// the socket's lifetime so that a peer socket can connect to it before
// any reader exists.
func (a *Allocator) ServerSocket() (*Socket, error) {
	lc := net.ListenConfig{Control: reuseAddr}

	attempts := 0
	for {
		port, ok := a.pool.Acquire()
		if !ok {
			return nil, ErrBindFailed{}
		}

		pc, err := lc.ListenPacket(context.Background(), "udp4",
			net.JoinHostPort(loopbackIP, strconv.Itoa(port)))
		if err == nil {
			return &Socket{
				pool: a.pool,
				port: port,
				conn: pc.(*net.UDPConn),
			}, nil
		}

		a.pool.Release(port)
		attempts++
		if attempts >= a.pool.Allocated()+64 {
			return nil, ErrBindFailed{}
		}
	}
}

// ClientSocket binds a datagram socket to a distinct pooled port and
// connects it to loopback:peerPort.
func (a *Allocator) ClientSocket(peerPort int) (*Socket, error) {
	raddr := &net.UDPAddr{IP: net.ParseIP(loopbackIP), Port: peerPort}

	attempts := 0
	for {
		port, ok := a.pool.Acquire()
		if !ok {
			return nil, ErrConnectFailed{}
		}

		laddr := &net.UDPAddr{IP: net.ParseIP(loopbackIP), Port: port}
		conn, err := net.DialUDP("udp4", laddr, raddr)
		if err == nil {
			return &Socket{
				pool:     a.pool,
				port:     port,
				peerPort: peerPort,
				client:   true,
				conn:     conn,
			}, nil
		}

		a.pool.Release(port)
		attempts++
		if attempts >= 64 {
			return nil, ErrConnectFailed{}
		}
	}
}

// Port returns the local pooled port.
func (s *Socket) Port() int {
	return s.port
}

// PeerPort returns the connected peer port; zero for server sockets.
func (s *Socket) PeerPort() int {
	return s.peerPort
}

// IsClient reports whether the socket is connected.
func (s *Socket) IsClient() bool {
	return s.client
}

// Write sends a datagram. For client sockets the destination is the
// connected peer.
func (s *Socket) Write(buf []byte) (int, error) {
	return s.conn.Write(buf)
}

// AttachReader registers cb to run on a dedicated goroutine for every
// received datagram. At most one reader can be attached to a socket.
func (s *Socket) AttachReader(cb ReadFunc) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed || s.readerStop != nil {
		return
	}

	s.readerStop = make(chan struct{})
	s.readerDone = make(chan struct{})

	go s.runReader(cb, s.readerStop, s.readerDone)
}

func (s *Socket) runReader(cb ReadFunc, stop chan struct{}, done chan struct{}) {
	defer close(done)

	buf := make([]byte, readBufferSize)
	for {
		n, err := s.conn.Read(buf)
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		if n > 0 {
			cb(buf[:n])
		}
	}
}

// DetachReader stops the reader goroutine. It guarantees the callback
// will not fire after it returns. Detaching a socket without a reader
// is a no-op.
func (s *Socket) DetachReader() {
	s.mutex.Lock()
	stop := s.readerStop
	done := s.readerDone
	s.readerStop = nil
	s.readerDone = nil
	s.mutex.Unlock()

	if stop == nil {
		return
	}

	close(stop)
	s.conn.SetReadDeadline(time.Now()) //nolint:errcheck
	<-done
	s.conn.SetReadDeadline(time.Time{}) //nolint:errcheck
}

// Close detaches the reader, closes the endpoint and returns the port
// to the pool. It is idempotent.
func (s *Socket) Close() {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return
	}
	s.closed = true
	s.mutex.Unlock()

	s.DetachReader()
	s.conn.Close()
	s.pool.Release(s.port)
}
