package bridge

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"rtspsource/internal/pipeline"
	"rtspsource/internal/rtspserver"
	"rtspsource/internal/sdputil"
	"rtspsource/internal/udpsock"
)

// streamSockets is the five-role socket set of one stream. The Srv
// sockets are adopted by the pipeline; the Cli sockets are connected
// to them and used by the relay. All five exist for the session's
// whole lifetime.
type streamSockets struct {
	rtpSrv     *udpsock.Socket
	rtpCli     *udpsock.Socket
	rtcpRcvSrv *udpsock.Socket
	rtcpRcvCli *udpsock.Socket
	rtcpSndSrv *udpsock.Socket
}

// closeSrv closes the sockets the pipeline had adopted.
func (st *streamSockets) closeSrv() {
	for _, sock := range []*udpsock.Socket{st.rtpSrv, st.rtcpRcvSrv, st.rtcpSndSrv} {
		if sock != nil {
			sock.Close()
		}
	}
}

func (st *streamSockets) closeAll() {
	for _, sock := range []*udpsock.Socket{
		st.rtpSrv, st.rtpCli, st.rtcpRcvSrv, st.rtcpRcvCli, st.rtcpSndSrv,
	} {
		if sock != nil {
			sock.Close()
		}
	}
}

// session is the per-peer state. The relay touches only the atomic
// flags and the immutable Cli sockets, so it is safe to call from the
// gateway's threads while the handler or the RTSP goroutine mutate the
// rest under the session mutex.
type session struct {
	handle Handle
	log    *slog.Logger

	audioActive atomic.Bool
	videoActive atomic.Bool
	bitrate     atomic.Uint64
	slowlinks   atomic.Uint32
	hangingUp   atomic.Bool

	video streamSockets
	audio streamSockets

	mutex       sync.Mutex
	videoCodec  sdputil.Codec
	videoPT     int
	audioCodec  sdputil.Codec
	audioPT     int
	streamID    string
	rtspURL     string
	registryID  string
	pipe        *pipeline.Pipeline
	mount       *rtspserver.Mount
	pliStop     chan struct{}
	destroyedAt time.Time
}

func newSession(handle Handle, log *slog.Logger) *session {
	s := &session{
		handle:  handle,
		log:     log,
		videoPT: -1,
		audioPT: -1,
	}
	s.audioActive.Store(true)
	s.videoActive.Store(true)
	return s
}

// createSockets binds the socket quintet of both streams eagerly so
// that the loopback path is wired before the pipeline exists.
func (s *session) createSockets(alloc *udpsock.Allocator) error {
	for _, st := range []*streamSockets{&s.video, &s.audio} {
		var err error

		st.rtpSrv, err = alloc.ServerSocket()
		if err == nil {
			st.rtpCli, err = alloc.ClientSocket(st.rtpSrv.Port())
		}
		if err == nil {
			st.rtcpRcvSrv, err = alloc.ServerSocket()
		}
		if err == nil {
			st.rtcpRcvCli, err = alloc.ClientSocket(st.rtcpRcvSrv.Port())
		}
		if err == nil {
			st.rtcpSndSrv, err = alloc.ServerSocket()
		}
		if err != nil {
			s.closeSockets()
			return err
		}
	}
	return nil
}

func (s *session) closeSockets() {
	s.video.closeAll()
	s.audio.closeAll()
}

func (s *session) sockets(video bool) *streamSockets {
	if video {
		return &s.video
	}
	return &s.audio
}

// setCodecs freezes the negotiated codec and payload type of each
// stream once the offer has been answered.
func (s *session) setCodecs(videoCodec sdputil.Codec, videoPT int,
	audioCodec sdputil.Codec, audioPT int,
) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.videoCodec = videoCodec
	s.videoPT = videoPT
	s.audioCodec = audioCodec
	s.audioPT = audioPT
}

// resetMediaControls restores the media flags to their initial values.
func (s *session) resetMediaControls() {
	s.audioActive.Store(true)
	s.videoActive.Store(true)
	s.bitrate.Store(0)
}

// startPeriodicPLI requests a keyframe from the peer at a fixed
// interval until stopPeriodicPLI runs. Used as a workaround for
// streams that never push a keyframe on their own.
func (s *session) startPeriodicPLI(interval time.Duration, gw Gateway) {
	stop := make(chan struct{})

	s.mutex.Lock()
	if s.pliStop != nil {
		s.mutex.Unlock()
		close(stop)
		return
	}
	s.pliStop = stop
	s.mutex.Unlock()

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if s.hangingUp.Load() {
					return
				}
				gw.RelayRTCP(s.handle, true, pliFrame())
			case <-stop:
				return
			}
		}
	}()
}

func (s *session) stopPeriodicPLI() {
	s.mutex.Lock()
	stop := s.pliStop
	s.pliStop = nil
	s.mutex.Unlock()

	if stop != nil {
		close(stop)
	}
}

// info exports the session state for query_session.
func (s *session) info() map[string]any {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return map[string]any{
		"id":             s.streamID,
		"url":            s.rtspURL,
		"video_codec":    s.videoCodec.String(),
		"audio_codec":    s.audioCodec.String(),
		"audio_active":   s.audioActive.Load(),
		"video_active":   s.videoActive.Load(),
		"bitrate":        s.bitrate.Load(),
		"slowlink_count": s.slowlinks.Load(),
		"hangingup":      s.hangingUp.Load(),
		"destroyed":      !s.destroyedAt.IsZero(),
	}
}
