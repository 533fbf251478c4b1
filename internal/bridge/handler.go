package bridge

import (
	"encoding/json"

	"rtspsource/internal/sdputil"
)

// message is one queued control message.
type message struct {
	handle      Handle
	transaction string
	body        []byte
	jsep        *JSEP
}

const messageQueueSize = 256

// HandleMessage queues a control message for the handler goroutine.
// A nil body is refused synchronously; everything else is answered
// asynchronously with a pushed event.
func (p *Plugin) HandleMessage(handle Handle, transaction string, body []byte, jsep *JSEP) Result {
	if p.lookup(handle) == nil {
		return errorResult(ErrCodeNoMessage, "session not found")
	}
	if body == nil && jsep == nil {
		return errorResult(ErrCodeNoMessage, "no message")
	}

	select {
	case p.messages <- &message{
		handle:      handle,
		transaction: transaction,
		body:        body,
		jsep:        jsep,
	}:
		return Result{Kind: ResultPending}
	case <-p.done:
		return errorResult(ErrCodeNoMessage, "shutting down")
	}
}

// runHandler drains the control-message queue. Messages of one session
// are processed in arrival order.
func (p *Plugin) runHandler() {
	defer p.wg.Done()

	for {
		select {
		case m := <-p.messages:
			p.processMessage(m)
		case <-p.done:
			return
		}
	}
}

func (p *Plugin) processMessage(m *message) {
	s := p.lookup(m.handle)
	if s == nil {
		p.Log.Debug("dropping message for vanished session")
		return
	}

	var body map[string]any
	if len(m.body) > 0 {
		err := json.Unmarshal(m.body, &body)
		if err != nil {
			p.pushError(s, m.transaction, ErrCodeInvalidJSON, "invalid JSON")
			return
		}
	}

	recognized, errText := p.applyBody(s, body)
	if errText != "" {
		p.pushError(s, m.transaction, ErrCodeInvalidElement, errText)
		return
	}

	if m.jsep != nil && m.jsep.Type == "offer" {
		// a new offer restarts a hung-up peer.
		s.hangingUp.Store(false)
		answer := p.answerOffer(s, m.jsep.SDP)
		p.Gateway.PushEvent(s.handle, m.transaction, okEvent(), answer)
		return
	}

	if !recognized {
		p.pushError(s, m.transaction, ErrCodeInvalidElement, "no supported element in message")
		return
	}

	p.Gateway.PushEvent(s.handle, m.transaction, okEvent(), nil)
}

// applyBody validates the recognized body keys and applies the flag
// updates. It reports whether at least one recognized key was present,
// plus a validation error text.
func (p *Plugin) applyBody(s *session, body map[string]any) (bool, string) {
	recognized := false

	if v, ok := body["audio"]; ok {
		b, isBool := v.(bool)
		if !isBool {
			return false, "invalid value (audio should be a boolean)"
		}
		recognized = true
		s.audioActive.Store(b)
		s.log.Debug("setting audio property", "active", b)
	}

	if v, ok := body["video"]; ok {
		b, isBool := v.(bool)
		if !isBool {
			return false, "invalid value (video should be a boolean)"
		}
		recognized = true
		wasActive := s.videoActive.Load()
		s.videoActive.Store(b)
		s.log.Debug("setting video property", "active", b)
		if b && !wasActive {
			// ask the peer for a keyframe so the restarted stream
			// becomes decodable immediately.
			p.Gateway.RelayRTCP(s.handle, true, pliFrame())
		}
	}

	if v, ok := body["bitrate"]; ok {
		n, isNum := v.(float64)
		if !isNum || n < 0 {
			return false, "invalid value (bitrate should be a positive integer)"
		}
		recognized = true
		s.bitrate.Store(uint64(n))
		s.log.Debug("setting bitrate", "bitrate", uint64(n))
		if n > 0 {
			p.Gateway.RelayRTCP(s.handle, true, rembFrame(uint64(n)))
		}
	}

	// record and filename are accepted for compatibility but have no
	// effect.
	if v, ok := body["record"]; ok {
		if _, isBool := v.(bool); !isBool {
			return false, "invalid value (record should be a boolean)"
		}
		recognized = true
	}
	if v, ok := body["filename"]; ok {
		if _, isStr := v.(string); !isStr {
			return false, "invalid value (filename should be a string)"
		}
		recognized = true
	}

	if v, ok := body["id"]; ok {
		id, isStr := v.(string)
		if !isStr {
			return false, "invalid value (id should be a string)"
		}
		recognized = true
		s.mutex.Lock()
		s.streamID = id
		s.mutex.Unlock()
	}

	return recognized, ""
}

// answerOffer scrubs the offer, pins the preferred video codec and
// freezes the negotiated codecs on the session.
func (p *Plugin) answerOffer(s *session, offer string) *JSEP {
	sdp := sdputil.Scrub(offer)

	videoCodec := sdputil.SelectVideoCodecByPriority(sdp, p.Conf.VideoCodecPriority)
	if videoCodec == sdputil.CodecInvalid {
		// no priority match, keep the offer's first video codec.
		videoCodec = sdputil.VideoCodec(sdp)
	}
	sdp = sdputil.SetVideoCodec(sdp, videoCodec)

	audioCodec := sdputil.AudioCodec(sdp)
	if audioCodec != sdputil.CodecOpus {
		audioCodec = sdputil.CodecInvalid
	}

	s.setCodecs(
		videoCodec, sdputil.CodecPT(sdp, videoCodec),
		audioCodec, sdputil.CodecPT(sdp, audioCodec),
	)

	s.log.Info("answering offer",
		"video_codec", videoCodec,
		"audio_codec", audioCodec)

	return &JSEP{Type: "answer", SDP: sdp}
}

func (p *Plugin) pushError(s *session, transaction string, code int, text string) {
	s.log.Warn("refusing message", "code", code, "err", text)
	p.Gateway.PushEvent(s.handle, transaction, errorEvent(code, text), nil)
}
