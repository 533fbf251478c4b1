// Package pipeline builds the media path between the session's UDP
// sockets and a RTSP stream.
package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/bluenviron/gortsplib/v5"
	"github.com/bluenviron/gortsplib/v5/pkg/description"
	"github.com/bluenviron/gortsplib/v5/pkg/format"

	"rtspsource/internal/sdputil"
	"rtspsource/internal/udpsock"
)

// payload types used on the RTSP side, matching the repayloaders of
// the launch description (pay0 / pay1).
const (
	videoOutPayloadType = 96
	audioOutPayloadType = 127
)

// StreamDesc describes one inbound stream: its codec and payload type
// as negotiated with the peer, the named server sockets the pipeline
// adopts, and the destination port for RTCP emitted by the pipeline.
type StreamDesc struct {
	Codec       sdputil.Codec
	PayloadType int
	RTPSrv      *udpsock.Socket
	RTCPRcvSrv  *udpsock.Socket
	RTCPSndPort int
}

// Desc describes the streams of a pipeline. At least one of Video and
// Audio must be present.
type Desc struct {
	Video *StreamDesc
	Audio *StreamDesc
}

// Pipeline moves RTP from the adopted sockets into a RTSP stream and
// emits RTCP receiver feedback toward the peer. It adopts the server
// sockets without owning them: stopping the pipeline never closes them.
type Pipeline struct {
	log     *slog.Logger
	desc    *description.Session
	launch  string
	ingests []*ingest
}

// Build composes a pipeline from the negotiated streams.
func Build(d Desc, log *slog.Logger) (*Pipeline, error) {
	if d.Video == nil && d.Audio == nil {
		return nil, fmt.Errorf("a pipeline needs at least one stream")
	}
	if log == nil {
		log = slog.Default()
	}

	p := &Pipeline{
		log:  log,
		desc: &description.Session{},
	}

	if d.Video != nil {
		forma, err := videoFormat(d.Video.Codec)
		if err != nil {
			return nil, err
		}

		media := &description.Media{
			Type:    description.MediaTypeVideo,
			Formats: []format.Format{forma},
		}
		p.desc.Medias = append(p.desc.Medias, media)
		p.ingests = append(p.ingests, &ingest{
			log:         log,
			video:       true,
			outPT:       videoOutPayloadType,
			media:       media,
			rtpSrv:      d.Video.RTPSrv,
			rtcpRcvSrv:  d.Video.RTCPRcvSrv,
			rtcpSndPort: d.Video.RTCPSndPort,
		})
	}

	if d.Audio != nil {
		if d.Audio.Codec != sdputil.CodecOpus {
			return nil, fmt.Errorf("unsupported audio codec: %v", d.Audio.Codec)
		}

		media := &description.Media{
			Type: description.MediaTypeAudio,
			Formats: []format.Format{&format.Opus{
				PayloadTyp:   audioOutPayloadType,
				ChannelCount: 1,
			}},
		}
		p.desc.Medias = append(p.desc.Medias, media)
		p.ingests = append(p.ingests, &ingest{
			log:         log,
			video:       false,
			outPT:       audioOutPayloadType,
			media:       media,
			rtpSrv:      d.Audio.RTPSrv,
			rtcpRcvSrv:  d.Audio.RTCPRcvSrv,
			rtcpSndPort: d.Audio.RTCPSndPort,
		})
	}

	p.launch = composeLaunch(d)
	return p, nil
}

func videoFormat(codec sdputil.Codec) (format.Format, error) {
	switch codec {
	case sdputil.CodecVP8:
		return &format.VP8{PayloadTyp: videoOutPayloadType}, nil
	case sdputil.CodecVP9:
		return &format.VP9{PayloadTyp: videoOutPayloadType}, nil
	case sdputil.CodecH264:
		return &format.H264{
			PayloadTyp:        videoOutPayloadType,
			PacketizationMode: 1,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported video codec: %v", codec)
	}
}

// Description returns the RTSP session description served by the mount.
func (p *Pipeline) Description() *description.Session {
	return p.desc
}

// Launch returns the textual launch description, used for logging and
// as the factory identity.
func (p *Pipeline) Launch() string {
	return p.launch
}

// Start attaches the pipeline to its adopted sockets and begins
// writing into stream.
func (p *Pipeline) Start(stream *gortsplib.ServerStream) {
	p.log.Debug("starting pipeline", "launch", p.launch)
	for _, in := range p.ingests {
		in.start(stream)
	}
}

// Stop detaches the pipeline from its sockets. The sockets themselves
// stay open; their owner closes them.
func (p *Pipeline) Stop() {
	for _, in := range p.ingests {
		in.stop()
	}
}
