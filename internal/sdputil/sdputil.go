// Package sdputil inspects and rewrites WebRTC SDP offers.
package sdputil

import (
	"regexp"
	"strconv"
	"strings"

	psdp "github.com/pion/sdp/v3"
)

var reVideoLine = regexp.MustCompile(`m=video[ \t]+([0-9]+)[ \t]+UDP/TLS/RTP/SAVPF[ \t]+([0-9]+)[ \t]+([0-9]+)`)

func parseSession(sdp string) *psdp.SessionDescription {
	var sd psdp.SessionDescription
	err := sd.Unmarshal([]byte(sdp))
	if err != nil {
		return nil
	}
	return &sd
}

// firstPayloadType returns the first payload type declared on the
// m=<mediaType> line, or -1.
func firstPayloadType(sdp string, mediaType string) int {
	sd := parseSession(sdp)
	if sd == nil {
		return -1
	}

	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Media != mediaType || len(md.MediaName.Formats) == 0 {
			continue
		}
		pt, err := strconv.Atoi(md.MediaName.Formats[0])
		if err != nil {
			return -1
		}
		return pt
	}
	return -1
}

func payloadTypeCodec(sdp string, pt int) Codec {
	if pt < 0 {
		return CodecInvalid
	}

	sd := parseSession(sdp)
	if sd == nil {
		return CodecInvalid
	}

	prefix := strconv.Itoa(pt) + " "
	for _, md := range sd.MediaDescriptions {
		for _, attr := range md.Attributes {
			if attr.Key != "rtpmap" || !strings.HasPrefix(attr.Value, prefix) {
				continue
			}
			name, _, _ := strings.Cut(strings.TrimPrefix(attr.Value, prefix), "/")
			return ParseCodec(strings.TrimSpace(name))
		}
	}
	return CodecInvalid
}

// VideoCodec identifies the codec of the first video payload type.
func VideoCodec(sdp string) Codec {
	return payloadTypeCodec(sdp, firstPayloadType(sdp, "video"))
}

// AudioCodec identifies the codec of the first audio payload type.
func AudioCodec(sdp string) Codec {
	return payloadTypeCodec(sdp, firstPayloadType(sdp, "audio"))
}

// CodecPT returns the payload type declared for codec, or -1.
func CodecPT(sdp string, codec Codec) int {
	if codec == CodecInvalid {
		return -1
	}

	sd := parseSession(sdp)
	if sd == nil {
		return -1
	}

	for _, md := range sd.MediaDescriptions {
		for _, attr := range md.Attributes {
			if attr.Key != "rtpmap" {
				continue
			}
			ptStr, rest, ok := strings.Cut(attr.Value, " ")
			if !ok {
				continue
			}
			name, _, _ := strings.Cut(rest, "/")
			if ParseCodec(strings.TrimSpace(name)) != codec {
				continue
			}
			pt, err := strconv.Atoi(ptStr)
			if err != nil {
				continue
			}
			return pt
		}
	}
	return -1
}

// SelectVideoCodecByPriority returns the first codec of the priority
// list with a payload type in the SDP, or CodecInvalid.
func SelectVideoCodecByPriority(sdp string, priority []Codec) Codec {
	for _, codec := range priority {
		if CodecPT(sdp, codec) != -1 {
			return codec
		}
	}
	return CodecInvalid
}

// SetVideoCodec rewrites the m=video line of an offer so that the
// payload type of the preferred codec appears first. Only the matched
// line is rewritten; everything else is preserved byte for byte.
func SetVideoCodec(sdp string, codec Codec) string {
	currentPT := firstPayloadType(sdp, "video")
	desiredPT := CodecPT(sdp, codec)

	// nothing to do if the preferred codec is already first,
	// or it does not exist in the SDP at all.
	if codec == CodecInvalid || desiredPT < 0 || currentPT == desiredPT {
		return sdp
	}

	m := reVideoLine.FindStringSubmatch(sdp)
	if m == nil {
		return sdp
	}

	port := m[1]
	pt1, _ := strconv.Atoi(m[2])
	pt2, _ := strconv.Atoi(m[3])
	second := pt1
	if pt2 != desiredPT {
		second = pt2
	}

	newLine := "m=video " + port + " UDP/TLS/RTP/SAVPF " +
		strconv.Itoa(desiredPT) + " " + strconv.Itoa(second)

	return strings.Replace(sdp, m[0], newLine, 1)
}
