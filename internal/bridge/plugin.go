package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"rtspsource/internal/conf"
	"rtspsource/internal/pipeline"
	"rtspsource/internal/portpool"
	"rtspsource/internal/registry"
	"rtspsource/internal/rtspserver"
	"rtspsource/internal/sdputil"
	"rtspsource/internal/udpsock"
)

// plugin metadata exposed to the gateway.
const (
	PluginVersion     = 1
	PluginName        = "RTSP source bridge"
	PluginPackage     = "plugin.rtspsource"
	PluginDescription = "republishes a WebRTC peer as a shared RTSP mount point"
	PluginAuthor      = "rtspsource contributors"
)

const (
	watchdogInterval  = 500 * time.Millisecond
	sessionQuiescence = 5 * time.Second
)

// ErrResourceExhausted is returned by CreateSession when the port pool
// cannot supply the session's sockets.
type ErrResourceExhausted struct {
	Cause error
}

// Error implements the error interface.
func (e ErrResourceExhausted) Error() string {
	return fmt.Sprintf("unable to create session sockets: %v", e.Cause)
}

// Plugin is the bridge between the WebRTC gateway and the RTSP
// service. One instance serves the whole process.
type Plugin struct {
	Conf    *conf.Conf
	Gateway Gateway
	Log     *slog.Logger

	pool     *portpool.Pool
	alloc    *udpsock.Allocator
	registry *registry.Client
	rtsp     *rtspserver.Service
	pid      string

	mutex     sync.Mutex
	sessions  map[Handle]*session
	graveyard []*session

	messages chan *message
	done     chan struct{}
	wg       sync.WaitGroup
}

// Initialize starts the RTSP service, the message handler, the
// watchdog and, when a keepalive URL is configured, the keepalive
// task.
func (p *Plugin) Initialize() error {
	if p.Conf == nil {
		p.Conf = conf.Default()
	}
	if p.Log == nil {
		p.Log = slog.Default()
	}

	p.pool = portpool.New(p.Conf.UDPPortMin, p.Conf.UDPPortMax, time.Now().UnixNano())
	p.alloc = udpsock.NewAllocator(p.pool)
	p.pid = uuid.New().String()

	p.registry = &registry.Client{Log: p.Log}
	p.registry.Initialize()

	p.rtsp = &rtspserver.Service{
		Address: p.Conf.Interface,
		Port:    p.Conf.RTSPPort,
		Log:     p.Log,
	}
	err := p.rtsp.Initialize()
	if err != nil {
		return err
	}

	p.sessions = make(map[Handle]*session)
	p.messages = make(chan *message, messageQueueSize)
	p.done = make(chan struct{})

	p.wg.Add(2)
	go p.runHandler()
	go p.runWatchdog()

	if p.Conf.KeepaliveServiceURL != "" {
		p.wg.Add(1)
		go p.runKeepalive()
	}

	p.Log.Info("plugin initialized", "name", PluginName, "pid", p.pid)
	return nil
}

// Close destroys every live session, stops the background tasks and
// removes the process keepalive entry.
func (p *Plugin) Close() {
	p.mutex.Lock()
	handles := make([]Handle, 0, len(p.sessions))
	for h := range p.sessions {
		handles = append(handles, h)
	}
	p.mutex.Unlock()

	for _, h := range handles {
		p.DestroySession(h) //nolint:errcheck
	}

	close(p.done)
	p.wg.Wait()

	p.rtsp.Close()

	if p.Conf.KeepaliveServiceURL != "" {
		p.registry.RemovePid(p.Conf.KeepaliveServiceURL, p.pid)
	}

	p.Log.Info("plugin closed")
}

// Version returns the plugin version.
func (p *Plugin) Version() int { return PluginVersion }

// Name returns the plugin name.
func (p *Plugin) Name() string { return PluginName }

// Package returns the plugin package identifier.
func (p *Plugin) Package() string { return PluginPackage }

// Description returns the plugin description.
func (p *Plugin) Description() string { return PluginDescription }

// Author returns the plugin author.
func (p *Plugin) Author() string { return PluginAuthor }

func (p *Plugin) lookup(handle Handle) *session {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.sessions[handle]
}

// CreateSession allocates the per-peer state and its socket quintets.
func (p *Plugin) CreateSession(handle Handle) error {
	s := newSession(handle, p.Log.With("handle", fmt.Sprintf("%v", handle)))

	err := s.createSockets(p.alloc)
	if err != nil {
		return ErrResourceExhausted{Cause: err}
	}

	p.mutex.Lock()
	if _, ok := p.sessions[handle]; ok {
		p.mutex.Unlock()
		s.closeSockets()
		return fmt.Errorf("session already exists")
	}
	p.sessions[handle] = s
	p.mutex.Unlock()

	s.log.Info("session created")
	return nil
}

// DestroySession tears the session down and parks it in the graveyard
// until the watchdog drops it.
func (p *Plugin) DestroySession(handle Handle) error {
	p.mutex.Lock()
	s, ok := p.sessions[handle]
	if ok {
		delete(p.sessions, handle)
	}
	p.mutex.Unlock()
	if !ok {
		return fmt.Errorf("session not found")
	}

	s.hangingUp.Store(true)
	s.stopPeriodicPLI()

	p.rtsp.SubmitAndWait(func() {
		p.unmountSession(s)
	})

	s.closeSockets()

	s.mutex.Lock()
	s.destroyedAt = time.Now()
	s.mutex.Unlock()

	p.mutex.Lock()
	p.graveyard = append(p.graveyard, s)
	p.mutex.Unlock()

	s.log.Info("session destroyed")
	return nil
}

// QuerySession exports the session state.
func (p *Plugin) QuerySession(handle Handle) (map[string]any, error) {
	s := p.lookup(handle)
	if s == nil {
		return nil, fmt.Errorf("session not found")
	}
	return s.info(), nil
}

// HangupMedia stops relaying for the session and resets its media
// controls. The mount stays until DestroySession.
func (p *Plugin) HangupMedia(handle Handle) {
	s := p.lookup(handle)
	if s == nil {
		return
	}
	if s.hangingUp.Swap(true) {
		return
	}

	s.stopPeriodicPLI()
	s.resetMediaControls()
	s.log.Info("peer hung up")
	p.Gateway.PushEvent(handle, "", doneEvent(), nil)
}

// SetupMedia is called by the gateway once the peer connection is up.
// The mount work runs on the RTSP service goroutine.
func (p *Plugin) SetupMedia(handle Handle) {
	s := p.lookup(handle)
	if s == nil {
		return
	}
	s.hangingUp.Store(false)

	p.rtsp.Submit(func() {
		p.mountSession(s)
	})
}

// mountSession builds the pipeline, mounts it and registers the mount.
// Runs on the RTSP service goroutine.
func (p *Plugin) mountSession(s *session) {
	if s.hangingUp.Load() {
		return
	}

	s.mutex.Lock()
	if s.mount != nil {
		s.mutex.Unlock()
		return
	}
	streamID := s.streamID
	if streamID == "" {
		streamID = uuid.New().String()
		s.streamID = streamID
	}
	videoCodec, videoPT := s.videoCodec, s.videoPT
	audioCodec, audioPT := s.audioCodec, s.audioPT
	s.mutex.Unlock()

	var desc pipeline.Desc
	if videoCodec != sdputil.CodecInvalid {
		desc.Video = &pipeline.StreamDesc{
			Codec:       videoCodec,
			PayloadType: videoPT,
			RTPSrv:      s.video.rtpSrv,
			RTCPRcvSrv:  s.video.rtcpRcvSrv,
			RTCPSndPort: s.video.rtcpSndSrv.Port(),
		}
	}
	if audioCodec != sdputil.CodecInvalid {
		desc.Audio = &pipeline.StreamDesc{
			Codec:       audioCodec,
			PayloadType: audioPT,
			RTPSrv:      s.audio.rtpSrv,
			RTCPRcvSrv:  s.audio.rtcpRcvSrv,
			RTCPSndPort: s.audio.rtcpSndSrv.Port(),
		}
	}

	pipe, err := pipeline.Build(desc, s.log)
	if err != nil {
		s.log.Error("unable to build pipeline", "err", err)
		return
	}

	url := p.rtsp.URL(streamID)

	registryID := ""
	if p.Conf.StatusServiceURL != "" {
		registryID, err = p.registry.Register(p.Conf.StatusServiceURL, url)
		if err != nil {
			var conflict registry.ErrIDConflict
			if errors.As(err, &conflict) {
				p.abortDuplicate(s, streamID)
				return
			}
			// the registry is optional; mount anyway.
			s.log.Warn("registry registration failed", "err", err)
		}
	}

	stream, err := p.rtsp.NewStream(pipe.Description())
	if err != nil {
		s.log.Error("unable to create stream", "err", err)
		return
	}

	mount := &rtspserver.Mount{
		StreamID: streamID,
		URL:      url,
		Stream:   stream,
		Pipeline: pipe,
		// keyframe requests are only needed until a reader plays.
		OnPlay: s.stopPeriodicPLI,
	}
	err = p.rtsp.AddMount(mount)
	if err != nil {
		stream.Close()
		if registryID != "" {
			p.registry.Unregister(p.Conf.StatusServiceURL, registryID)
		}
		p.abortDuplicate(s, streamID)
		return
	}

	pipe.Start(stream)
	p.attachRTCPReaders(s)

	s.mutex.Lock()
	s.pipe = pipe
	s.mount = mount
	s.rtspURL = url
	s.registryID = registryID
	s.mutex.Unlock()

	if p.Conf.PeriodicPLIInterval > 0 {
		s.startPeriodicPLI(p.Conf.PeriodicPLIInterval, p.Gateway)
	}

	s.log.Info("stream mounted", "url", url)
}

// abortDuplicate surfaces a mount id conflict: event 414, forced
// hangup, no mount.
func (p *Plugin) abortDuplicate(s *session, streamID string) {
	s.log.Error("mount point id already exists", "id", streamID)
	p.Gateway.PushEvent(s.handle, "",
		errorEvent(ErrCodeInvalidURLID,
			fmt.Sprintf("RTSP mount point '/%s' already exist", streamID)),
		nil)
	p.HangupMedia(s.handle)
}

// unmountSession removes the mount, closes the adopted sockets'
// readers and deletes the registry entry. Runs on the RTSP service
// goroutine.
func (p *Plugin) unmountSession(s *session) {
	s.mutex.Lock()
	mount := s.mount
	registryID := s.registryID
	s.mount = nil
	s.pipe = nil
	s.registryID = ""
	s.mutex.Unlock()

	if mount == nil {
		return
	}

	p.rtsp.RemoveMount(mount.StreamID)

	s.video.closeSrv()
	s.audio.closeSrv()

	if registryID != "" {
		p.registry.Unregister(p.Conf.StatusServiceURL, registryID)
	}
}

// runWatchdog drops destroyed sessions after the quiescence interval,
// so callbacks still carrying the old handle never observe a freed
// session.
func (p *Plugin) runWatchdog() {
	defer p.wg.Done()

	t := time.NewTicker(watchdogInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			now := time.Now()
			p.mutex.Lock()
			kept := p.graveyard[:0]
			for _, s := range p.graveyard {
				if now.Sub(s.destroyedAt) < sessionQuiescence {
					kept = append(kept, s)
				}
			}
			for i := len(kept); i < len(p.graveyard); i++ {
				p.graveyard[i] = nil
			}
			p.graveyard = kept
			p.mutex.Unlock()
		case <-p.done:
			return
		}
	}
}

// runKeepalive POSTs the process liveness record at the configured
// interval.
func (p *Plugin) runKeepalive() {
	defer p.wg.Done()

	t := time.NewTicker(p.Conf.KeepaliveInterval)
	defer t.Stop()

	dly := int(p.Conf.KeepaliveInterval / time.Second)

	for {
		select {
		case <-t.C:
			err := p.registry.Keepalive(p.Conf.KeepaliveServiceURL, p.pid, dly)
			if err != nil {
				p.Log.Warn("keepalive failed", "err", err)
			}
		case <-p.done:
			return
		}
	}
}

// Mounts returns the number of live mount points.
func (p *Plugin) Mounts() int {
	return p.rtsp.Mounts()
}
