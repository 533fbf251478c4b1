package pipeline

import (
	"testing"

	"github.com/bluenviron/gortsplib/v5/pkg/description"
	"github.com/bluenviron/gortsplib/v5/pkg/format"
	"github.com/stretchr/testify/require"

	"rtspsource/internal/sdputil"
)

func TestBuildVideoAndAudio(t *testing.T) {
	p, err := Build(Desc{
		Video: &StreamDesc{Codec: sdputil.CodecVP8, PayloadType: 100, RTCPSndPort: 4100},
		Audio: &StreamDesc{Codec: sdputil.CodecOpus, PayloadType: 111, RTCPSndPort: 4200},
	}, nil)
	require.NoError(t, err)

	desc := p.Description()
	require.Len(t, desc.Medias, 2)
	require.Equal(t, description.MediaTypeVideo, desc.Medias[0].Type)
	require.Equal(t, description.MediaTypeAudio, desc.Medias[1].Type)

	vf, ok := desc.Medias[0].Formats[0].(*format.VP8)
	require.True(t, ok)
	require.Equal(t, uint8(96), vf.PayloadType())

	af, ok := desc.Medias[1].Formats[0].(*format.Opus)
	require.True(t, ok)
	require.Equal(t, uint8(127), af.PayloadType())
	require.Equal(t, 1, af.ChannelCount)

	require.Contains(t, p.Launch(), "name=pay0")
	require.Contains(t, p.Launch(), "name=pay1")
	require.Contains(t, p.Launch(), "udpsrc name=video_rtp_srv")
	require.Contains(t, p.Launch(), "udpsrc name=audio_rtp_srv")
	require.Contains(t, p.Launch(), "udpsink port=4100")
	require.Contains(t, p.Launch(), "udpsink port=4200")
}

func TestBuildVideoOnly(t *testing.T) {
	p, err := Build(Desc{
		Video: &StreamDesc{Codec: sdputil.CodecH264, PayloadType: 101, RTCPSndPort: 4100},
	}, nil)
	require.NoError(t, err)

	desc := p.Description()
	require.Len(t, desc.Medias, 1)
	require.Equal(t, description.MediaTypeVideo, desc.Medias[0].Type)

	_, ok := desc.Medias[0].Formats[0].(*format.H264)
	require.True(t, ok)

	require.Contains(t, p.Launch(), "name=pay0")
	require.NotContains(t, p.Launch(), "name=pay1")
	require.Contains(t, p.Launch(), "rtph264depay")
}

func TestBuildAudioOnly(t *testing.T) {
	p, err := Build(Desc{
		Audio: &StreamDesc{Codec: sdputil.CodecOpus, PayloadType: 111, RTCPSndPort: 4200},
	}, nil)
	require.NoError(t, err)

	desc := p.Description()
	require.Len(t, desc.Medias, 1)
	require.Equal(t, description.MediaTypeAudio, desc.Medias[0].Type)

	require.Contains(t, p.Launch(), "name=pay0")
	require.NotContains(t, p.Launch(), "name=pay1")
	require.Contains(t, p.Launch(), "rtpopusdepay")
}

func TestBuildNoStreams(t *testing.T) {
	_, err := Build(Desc{}, nil)
	require.Error(t, err)
}

func TestBuildUnsupportedVideoCodec(t *testing.T) {
	_, err := Build(Desc{
		Video: &StreamDesc{Codec: sdputil.CodecOpus, PayloadType: 100},
	}, nil)
	require.Error(t, err)
}
