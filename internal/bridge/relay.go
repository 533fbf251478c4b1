package bridge

import (
	"github.com/pion/rtcp"

	"rtspsource/internal/sdputil"
)

const (
	slowLinkDefaultBitrate = 512000
	slowLinkMinBitrate     = 64000
)

// pliFrame synthesizes a 12-byte RTCP Picture Loss Indication.
func pliFrame() []byte {
	buf, _ := (&rtcp.PictureLossIndication{
		SenderSSRC: 1,
		MediaSSRC:  1,
	}).Marshal()
	return buf
}

// rembFrame synthesizes a 24-byte Receiver Estimated Maximum Bitrate
// frame carrying the wanted bitrate.
func rembFrame(bitrate uint64) []byte {
	buf, _ := (&rtcp.ReceiverEstimatedMaximumBitrate{
		SenderSSRC: 1,
		Bitrate:    float32(bitrate),
		SSRCs:      []uint32{0},
	}).Marshal()
	return buf
}

// containsPLI reports whether buf holds a Picture Loss Indication.
func containsPLI(buf []byte) bool {
	pkts, err := rtcp.Unmarshal(buf)
	if err != nil {
		return false
	}
	for _, pkt := range pkts {
		if _, ok := pkt.(*rtcp.PictureLossIndication); ok {
			return true
		}
	}
	return false
}

// IncomingRTP forwards peer RTP into the pipeline over the matching
// loopback client socket. Inactive streams and sessions being torn
// down drop silently.
func (p *Plugin) IncomingRTP(handle Handle, video bool, buf []byte) {
	s := p.lookup(handle)
	if s == nil || s.hangingUp.Load() {
		return
	}
	if video && !s.videoActive.Load() {
		return
	}
	if !video && !s.audioActive.Load() {
		return
	}

	s.sockets(video).rtpCli.Write(buf) //nolint:errcheck
}

// IncomingRTCP forwards peer RTCP into the pipeline.
func (p *Plugin) IncomingRTCP(handle Handle, video bool, buf []byte) {
	s := p.lookup(handle)
	if s == nil || s.hangingUp.Load() {
		return
	}
	if video && !s.videoActive.Load() {
		return
	}
	if !video && !s.audioActive.Load() {
		return
	}

	s.sockets(video).rtcpRcvCli.Write(buf) //nolint:errcheck
}

// IncomingData is part of the gateway ABI; data channels are not
// bridged.
func (p *Plugin) IncomingData(Handle, []byte) {
}

// attachRTCPReaders relays RTCP emitted by the pipeline back to the
// peer. One reader per live stream, attached at mount time.
func (p *Plugin) attachRTCPReaders(s *session) {
	s.mutex.Lock()
	videoCodec := s.videoCodec
	audioCodec := s.audioCodec
	s.mutex.Unlock()

	attach := func(st *streamSockets, video bool) {
		st.rtcpSndSrv.AttachReader(func(buf []byte) {
			if s.hangingUp.Load() {
				return
			}
			if containsPLI(buf) {
				s.log.Debug("relaying PLI to peer", "video", video)
			}
			out := make([]byte, len(buf))
			copy(out, buf)
			p.Gateway.RelayRTCP(s.handle, video, out)
		})
	}

	if videoCodec != sdputil.CodecInvalid {
		attach(&s.video, true)
	}
	if audioCodec != sdputil.CodecInvalid {
		attach(&s.audio, false)
	}
}

// SlowLink reacts to congestion reported by the gateway. Video slow
// links halve the target bitrate and relay a REMB; audio ones only
// count.
func (p *Plugin) SlowLink(handle Handle, uplink bool, video bool) {
	s := p.lookup(handle)
	if s == nil || s.hangingUp.Load() {
		return
	}

	s.slowlinks.Add(1)
	if !video {
		return
	}

	bitrate := s.bitrate.Load()
	if bitrate == 0 {
		bitrate = slowLinkDefaultBitrate
	}
	bitrate /= 2
	if bitrate < slowLinkMinBitrate {
		bitrate = slowLinkMinBitrate
	}
	s.bitrate.Store(bitrate)

	s.log.Info("slow link, lowering bitrate", "uplink", uplink, "bitrate", bitrate)
	p.Gateway.RelayRTCP(handle, true, rembFrame(bitrate))
	p.Gateway.PushEvent(handle, "", map[string]any{
		"source":  "event",
		"status":  "slow_link",
		"bitrate": bitrate,
	}, nil)
}
