package sdputil

import (
	"strings"
)

// Codec is one of the codecs the bridge can negotiate.
type Codec int

// available codecs.
const (
	CodecInvalid Codec = iota
	CodecOpus
	CodecVP8
	CodecVP9
	CodecH264
)

var codecNames = map[Codec]string{
	CodecOpus: "opus",
	CodecVP8:  "VP8",
	CodecVP9:  "VP9",
	CodecH264: "H264",
}

// String implements fmt.Stringer. It returns the rtpmap encoding name.
func (c Codec) String() string {
	if name, ok := codecNames[c]; ok {
		return name
	}
	return "INVALID"
}

// ParseCodec turns an encoding name into a Codec.
// Unknown names map to CodecInvalid.
func ParseCodec(name string) Codec {
	for codec, n := range codecNames {
		if strings.EqualFold(n, name) {
			return codec
		}
	}
	return CodecInvalid
}
