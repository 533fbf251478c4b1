// Package rtspserver owns the RTSP server, its mount points and the
// work queue that serializes media setup onto the service goroutine.
package rtspserver

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/bluenviron/gortsplib/v5"
	"github.com/bluenviron/gortsplib/v5/pkg/base"
	"github.com/bluenviron/gortsplib/v5/pkg/description"
)

const workQueueSize = 64

// ErrMountExists is returned when a mount point id is already taken
// inside this process.
type ErrMountExists struct {
	StreamID string
}

// Error implements the error interface.
func (e ErrMountExists) Error() string {
	return fmt.Sprintf("mount point '/%s' already exists", e.StreamID)
}

// Service owns a RTSP server bound to a configured interface, the set
// of live mount points, and a cross-goroutine work queue drained by
// the service goroutine.
type Service struct {
	Address string
	Port    int
	Log     *slog.Logger

	srv  *gortsplib.Server
	work chan func()
	done chan struct{}
	wg   sync.WaitGroup

	mutex        sync.Mutex
	mounts       map[string]*Mount
	clientMounts map[*gortsplib.ServerSession]*Mount

	// teardownClient force-closes one RTSP client of a mount being
	// removed. Overridable in tests to observe teardown ordering.
	teardownClient func(ss *gortsplib.ServerSession, url string)
}

// Initialize initializes the Service and starts the server plus the
// work-queue goroutine.
func (s *Service) Initialize() error {
	if s.Log == nil {
		s.Log = slog.Default()
	}
	if s.teardownClient == nil {
		s.teardownClient = func(ss *gortsplib.ServerSession, url string) {
			// issuing a TEARDOWN server-side boils down to forcing
			// the session closed; the client observes the connection
			// shutdown for the mount URL.
			s.Log.Info("closing RTSP client", "url", url)
			ss.Close()
		}
	}

	s.mounts = make(map[string]*Mount)
	s.clientMounts = make(map[*gortsplib.ServerSession]*Mount)
	s.work = make(chan func(), workQueueSize)
	s.done = make(chan struct{})

	// the UDP RTP port must be even, with RTCP on the next port.
	udpRTPPort := (s.Port + 1000) &^ 1
	s.srv = &gortsplib.Server{
		Handler:        s,
		RTSPAddress:    net.JoinHostPort(s.Address, strconv.Itoa(s.Port)),
		UDPRTPAddress:  ":" + strconv.Itoa(udpRTPPort),
		UDPRTCPAddress: ":" + strconv.Itoa(udpRTPPort+1),
	}
	err := s.srv.Start()
	if err != nil {
		return err
	}

	s.wg.Add(1)
	go s.run()

	s.Log.Info("RTSP service ready", "address", s.srv.RTSPAddress)
	return nil
}

// Close drains the work queue, removes every mount and stops the server.
func (s *Service) Close() {
	close(s.done)
	s.wg.Wait()

	s.mutex.Lock()
	ids := make([]string, 0, len(s.mounts))
	for id := range s.mounts {
		ids = append(ids, id)
	}
	s.mutex.Unlock()

	for _, id := range ids {
		s.RemoveMount(id)
	}

	s.srv.Close()
}

// run drains the work queue on the service goroutine. Queue items are
// executed in submission order.
func (s *Service) run() {
	defer s.wg.Done()

	for {
		select {
		case cb := <-s.work:
			cb()
		case <-s.done:
			for {
				select {
				case cb := <-s.work:
					cb()
				default:
					return
				}
			}
		}
	}
}

// Submit enqueues work for the service goroutine. It can be called
// from any goroutine.
func (s *Service) Submit(cb func()) {
	select {
	case s.work <- cb:
	case <-s.done:
	}
}

// SubmitAndWait enqueues work and blocks until it ran.
func (s *Service) SubmitAndWait(cb func()) {
	ran := make(chan struct{})
	s.Submit(func() {
		defer close(ran)
		cb()
	})
	select {
	case <-ran:
	case <-s.done:
	}
}

// NewStream creates a server stream bound to this service's server.
func (s *Service) NewStream(desc *description.Session) (*gortsplib.ServerStream, error) {
	st := &gortsplib.ServerStream{
		Server: s.srv,
		Desc:   desc,
	}
	err := st.Initialize()
	if err != nil {
		return nil, err
	}
	return st, nil
}

// URL returns the RTSP URL of a stream id.
func (s *Service) URL(streamID string) string {
	return "rtsp://" + net.JoinHostPort(s.Address, strconv.Itoa(s.Port)) + "/" + streamID
}

// AddMount attaches a mount at /<streamID>. Duplicate ids are refused.
func (s *Service) AddMount(m *Mount) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.mounts[m.StreamID]; ok {
		return ErrMountExists{StreamID: m.StreamID}
	}

	s.mounts[m.StreamID] = m
	s.Log.Info("mount point added", "url", m.URL)
	return nil
}

// Mounts returns the number of live mount points.
func (s *Service) Mounts() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.mounts)
}

// HasMount reports whether /<streamID> is mounted.
func (s *Service) HasMount(streamID string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, ok := s.mounts[streamID]
	return ok
}

// RemoveMount tears a mount point down. The ordering is mandatory:
// connected clients are torn down first, then client tracking stops,
// then the pipeline is stopped, then the mount is detached so no new
// session can start, and finally the mount's stream is released.
func (s *Service) RemoveMount(streamID string) {
	s.mutex.Lock()
	m, ok := s.mounts[streamID]
	s.mutex.Unlock()
	if !ok {
		return
	}

	// (i) TEARDOWN and force-close every tracked client.
	for _, ss := range m.clients() {
		s.teardownClient(ss, m.URL)

		s.mutex.Lock()
		delete(s.clientMounts, ss)
		s.mutex.Unlock()
	}

	// (ii) stop accepting client registrations for this mount.
	m.stopTracking()

	// (iii) stop the pipeline feeding the mount.
	if m.Pipeline != nil {
		m.Pipeline.Stop()
	}

	// (iv) detach the mount point.
	s.mutex.Lock()
	delete(s.mounts, streamID)
	s.mutex.Unlock()

	// (v) release the stream; adopted sockets stay with their owner.
	if m.Stream != nil {
		m.Stream.Close()
	}

	s.Log.Info("mount point removed", "url", m.URL)
}

// CloseAllSessionsForMount force-closes every RTSP client whose mount
// URL starts with url.
func (s *Service) CloseAllSessionsForMount(url string) {
	type victim struct {
		ss  *gortsplib.ServerSession
		url string
	}

	s.mutex.Lock()
	var victims []victim
	for ss, m := range s.clientMounts {
		if strings.HasPrefix(m.URL, url) {
			victims = append(victims, victim{ss, m.URL})
		}
	}
	s.mutex.Unlock()

	for _, v := range victims {
		s.teardownClient(v.ss, v.url)
	}
}

func (s *Service) mountByPath(path string) *Mount {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.mounts[strings.TrimPrefix(path, "/")]
}

// OnConnOpen implements gortsplib.ServerHandlerOnConnOpen.
func (s *Service) OnConnOpen(ctx *gortsplib.ServerHandlerOnConnOpenCtx) {
	s.Log.Debug("RTSP connection opened", "addr", ctx.Conn.NetConn().RemoteAddr())
}

// OnConnClose implements gortsplib.ServerHandlerOnConnClose.
func (s *Service) OnConnClose(ctx *gortsplib.ServerHandlerOnConnCloseCtx) {
	s.Log.Debug("RTSP connection closed", "err", ctx.Error)
}

// OnSessionOpen implements gortsplib.ServerHandlerOnSessionOpen.
func (s *Service) OnSessionOpen(_ *gortsplib.ServerHandlerOnSessionOpenCtx) {
	s.Log.Info("RTSP client connected")
}

// OnSessionClose implements gortsplib.ServerHandlerOnSessionClose.
func (s *Service) OnSessionClose(ctx *gortsplib.ServerHandlerOnSessionCloseCtx) {
	s.mutex.Lock()
	m := s.clientMounts[ctx.Session]
	delete(s.clientMounts, ctx.Session)
	s.mutex.Unlock()

	if m != nil {
		m.removeClient(ctx.Session)
	}
	s.Log.Info("RTSP client disconnected")
}

// OnDescribe implements gortsplib.ServerHandlerOnDescribe.
func (s *Service) OnDescribe(ctx *gortsplib.ServerHandlerOnDescribeCtx,
) (*base.Response, *gortsplib.ServerStream, error) {
	m := s.mountByPath(ctx.Path)
	if m == nil {
		return &base.Response{StatusCode: base.StatusNotFound}, nil, nil
	}

	return &base.Response{StatusCode: base.StatusOK}, m.Stream, nil
}

// OnSetup implements gortsplib.ServerHandlerOnSetup.
func (s *Service) OnSetup(ctx *gortsplib.ServerHandlerOnSetupCtx,
) (*base.Response, *gortsplib.ServerStream, error) {
	m := s.mountByPath(ctx.Path)
	if m == nil {
		return &base.Response{StatusCode: base.StatusNotFound}, nil, nil
	}

	if !m.addClient(ctx.Session) {
		return &base.Response{StatusCode: base.StatusNotFound}, nil, nil
	}

	s.mutex.Lock()
	s.clientMounts[ctx.Session] = m
	s.mutex.Unlock()

	return &base.Response{StatusCode: base.StatusOK}, m.Stream, nil
}

// OnPlay implements gortsplib.ServerHandlerOnPlay.
func (s *Service) OnPlay(ctx *gortsplib.ServerHandlerOnPlayCtx) (*base.Response, error) {
	m := s.mountByPath(ctx.Path)
	if m != nil && m.OnPlay != nil {
		m.OnPlay()
	}
	return &base.Response{StatusCode: base.StatusOK}, nil
}
