package pipeline

import (
	"fmt"

	"rtspsource/internal/sdputil"
)

// launch fragment templates, one per codec. Each consumes the payload
// type, the named RTP source, the named RTCP-receive source and the
// RTCP send destination port.
const (
	launchVideo = "rtpbin name=sess_vid rtp-profile=avpf " +
		"udpsrc name=%s caps=\"application/x-rtp, media=video, payload=%d, " +
		"encoding-name=%s, clock-rate=90000, rtcp-fb-nack-pli=1\" " +
		"! sess_vid.recv_rtp_sink_0 " +
		"sess_vid. ! rtp%sdepay " +
		"udpsrc name=%s ! sess_vid.recv_rtcp_sink_0 " +
		"sess_vid.send_rtcp_src_0 ! udpsink port=%d sync=false async=false " +
		"! rtp%spay pt=96"

	launchAudio = "rtpbin name=sess_aud " +
		"udpsrc name=%s caps=\"application/x-rtp, media=audio, payload=%d, " +
		"encoding-name=OPUS, clock-rate=48000\" " +
		"! sess_aud.recv_rtp_sink_0 " +
		"sess_aud. ! rtpopusdepay " +
		"udpsrc name=%s ! sess_aud.recv_rtcp_sink_0 " +
		"sess_aud.send_rtcp_src_0 ! udpsink port=%d " +
		"! audio/x-opus,channels=1 ! rtpopuspay pt=127"
)

func videoElement(codec sdputil.Codec) string {
	switch codec {
	case sdputil.CodecVP8:
		return "vp8"
	case sdputil.CodecVP9:
		return "vp9"
	case sdputil.CodecH264:
		return "h264"
	default:
		return ""
	}
}

func composeLaunch(d Desc) string {
	var video string
	if d.Video != nil {
		elem := videoElement(d.Video.Codec)
		video = fmt.Sprintf(launchVideo,
			SocketVideoRTPSrv,
			d.Video.PayloadType,
			d.Video.Codec,
			elem,
			SocketVideoRTCPRcvSrv,
			d.Video.RTCPSndPort,
			elem)
	}

	var audio string
	if d.Audio != nil {
		audio = fmt.Sprintf(launchAudio,
			SocketAudioRTPSrv,
			d.Audio.PayloadType,
			SocketAudioRTCPRcvSrv,
			d.Audio.RTCPSndPort)
	}

	switch {
	case video != "" && audio != "":
		return fmt.Sprintf("( %s name=pay0 %s name=pay1 )", video, audio)
	case video != "":
		return fmt.Sprintf("( %s name=pay0 )", video)
	default:
		return fmt.Sprintf("( %s name=pay0 )", audio)
	}
}
