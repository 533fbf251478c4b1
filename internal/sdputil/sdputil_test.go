package sdputil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func offer(lines ...string) string {
	base := []string{
		"v=0",
		"o=- 4962303333179871722 1 IN IP4 127.0.0.1",
		"s=-",
		"c=IN IP4 127.0.0.1",
		"t=0 0",
	}
	return strings.Join(append(base, lines...), "\r\n") + "\r\n"
}

var offerVP8Opus = offer(
	"m=video 9 UDP/TLS/RTP/SAVPF 100 101",
	"a=rtpmap:100 VP8/90000",
	"a=rtpmap:101 H264/90000",
	"a=sendonly",
	"m=audio 9 UDP/TLS/RTP/SAVPF 111",
	"a=rtpmap:111 opus/48000/2",
)

func TestVideoCodec(t *testing.T) {
	require.Equal(t, CodecVP8, VideoCodec(offerVP8Opus))
}

func TestAudioCodec(t *testing.T) {
	require.Equal(t, CodecOpus, AudioCodec(offerVP8Opus))
}

func TestCodecPT(t *testing.T) {
	require.Equal(t, 100, CodecPT(offerVP8Opus, CodecVP8))
	require.Equal(t, 101, CodecPT(offerVP8Opus, CodecH264))
	require.Equal(t, 111, CodecPT(offerVP8Opus, CodecOpus))
	require.Equal(t, -1, CodecPT(offerVP8Opus, CodecVP9))
	require.Equal(t, -1, CodecPT(offerVP8Opus, CodecInvalid))
}

func TestSetVideoCodecAlreadyFirst(t *testing.T) {
	require.Equal(t, offerVP8Opus, SetVideoCodec(offerVP8Opus, CodecVP8))
}

func TestSetVideoCodecInvalidUnchanged(t *testing.T) {
	require.Equal(t, offerVP8Opus, SetVideoCodec(offerVP8Opus, CodecInvalid))
}

func TestSetVideoCodecAbsentUnchanged(t *testing.T) {
	require.Equal(t, offerVP8Opus, SetVideoCodec(offerVP8Opus, CodecVP9))
}

func TestSetVideoCodecRewritesFirst(t *testing.T) {
	out := SetVideoCodec(offerVP8Opus, CodecH264)
	require.Contains(t, out, "m=video 9 UDP/TLS/RTP/SAVPF 101 100")
	require.Equal(t, CodecH264, VideoCodec(out))

	// only the m=video line changes.
	require.Equal(t,
		strings.Replace(offerVP8Opus,
			"m=video 9 UDP/TLS/RTP/SAVPF 100 101",
			"m=video 9 UDP/TLS/RTP/SAVPF 101 100", 1),
		out)
}

func TestSetVideoCodecRoundTrip(t *testing.T) {
	for _, codec := range []Codec{CodecVP8, CodecH264} {
		out := SetVideoCodec(offerVP8Opus, codec)
		require.Equal(t, codec, VideoCodec(out))
		require.Equal(t, CodecPT(offerVP8Opus, codec), CodecPT(out, codec))
	}
}

func TestSelectVideoCodecByPriority(t *testing.T) {
	require.Equal(t, CodecH264,
		SelectVideoCodecByPriority(offerVP8Opus, []Codec{CodecH264, CodecVP8}))
	require.Equal(t, CodecVP8,
		SelectVideoCodecByPriority(offerVP8Opus, []Codec{CodecVP9, CodecVP8}))
	require.Equal(t, CodecInvalid,
		SelectVideoCodecByPriority(offerVP8Opus, []Codec{CodecVP9}))
}

func TestScrubDirections(t *testing.T) {
	in := offer(
		"m=video 9 UDP/TLS/RTP/SAVPF 100 101",
		"a=rtpmap:100 VP8/90000",
		"a=rtpmap:101 H264/90000",
		"a=sendonly",
		"m=audio 9 UDP/TLS/RTP/SAVPF 111",
		"a=rtpmap:111 opus/48000/2",
		"a=recvonly",
	)
	out := Scrub(in)
	require.Contains(t, out, "a=recvonly\r\n")
	require.Contains(t, out, "a=inactive\r\n")
	require.NotContains(t, out, "a=sendonly")
}

func TestScrubStripsFEC(t *testing.T) {
	in := offer(
		"m=video 9 UDP/TLS/RTP/SAVPF 100 101 116 117 96",
		"a=rtpmap:100 VP8/90000",
		"a=rtpmap:101 H264/90000",
		"a=rtpmap:116 red/90000",
		"a=rtpmap:117 ulpfec/90000",
		"a=rtpmap:96 rtx/90000",
		"a=fmtp:96 apt=100",
	)
	out := Scrub(in)
	require.Contains(t, out, "m=video 9 UDP/TLS/RTP/SAVPF 100 101\r\n")
	require.NotContains(t, out, "red/90000")
	require.NotContains(t, out, "ulpfec/90000")
	require.NotContains(t, out, "rtx/90000")
	require.NotContains(t, out, "a=fmtp:96")
	require.Contains(t, out, "a=rtpmap:100 VP8/90000")
}

func TestScrubPinIdempotent(t *testing.T) {
	in := offer(
		"m=video 9 UDP/TLS/RTP/SAVPF 100 101 116 117",
		"a=rtpmap:100 VP8/90000",
		"a=rtpmap:101 H264/90000",
		"a=rtpmap:116 red/90000",
		"a=rtpmap:117 ulpfec/90000",
		"m=audio 9 UDP/TLS/RTP/SAVPF 111",
		"a=rtpmap:111 opus/48000/2",
	)
	once := SetVideoCodec(Scrub(in), CodecH264)
	twice := SetVideoCodec(Scrub(once), CodecH264)
	require.Equal(t, once, twice)
}
