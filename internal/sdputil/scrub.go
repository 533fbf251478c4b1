package sdputil

import (
	"strconv"
	"strings"
)

// payload types used by browsers for RED / ULPFEC / RTX.
var fecPayloadTypes = []int{116, 117}
var rtxPayloadTypes = []int{96, 97, 98}

// Scrub prepares an offer for answering:
// media directions are mirrored (recvonly becomes inactive, sendonly
// becomes recvonly) and the RED / ULPFEC / RTX payload types are removed
// together with their rtpmap / fmtp lines and m= line references.
func Scrub(sdp string) string {
	sep := "\n"
	if strings.Contains(sdp, "\r\n") {
		sep = "\r\n"
	}

	strip := strippedPayloadTypes(sdp)

	lines := strings.Split(sdp, sep)
	out := make([]string, 0, len(lines))

	for _, line := range lines {
		switch line {
		case "a=recvonly":
			out = append(out, "a=inactive")
			continue
		case "a=sendonly":
			out = append(out, "a=recvonly")
			continue
		}

		if isStrippedAttribute(line, strip) {
			continue
		}

		if strings.HasPrefix(line, "m=") {
			out = append(out, stripMediaLine(line, strip))
			continue
		}

		out = append(out, line)
	}

	return strings.Join(out, sep)
}

func strippedPayloadTypes(sdp string) map[int]struct{} {
	if !strings.Contains(sdp, "ulpfec") {
		return nil
	}

	strip := make(map[int]struct{})
	for _, pt := range fecPayloadTypes {
		strip[pt] = struct{}{}
	}
	for _, pt := range rtxPayloadTypes {
		if strings.Contains(sdp, "a=rtpmap:"+strconv.Itoa(pt)+" rtx/") {
			strip[pt] = struct{}{}
		}
	}
	return strip
}

func isStrippedAttribute(line string, strip map[int]struct{}) bool {
	for pt := range strip {
		n := strconv.Itoa(pt)
		if strings.HasPrefix(line, "a=rtpmap:"+n+" ") ||
			strings.HasPrefix(line, "a=fmtp:"+n+" ") {
			return true
		}
	}
	return false
}

func stripMediaLine(line string, strip map[int]struct{}) string {
	if len(strip) == 0 {
		return line
	}

	fields := strings.Fields(line)
	if len(fields) <= 3 {
		return line
	}

	// m=<type> <port> <proto> <pt> <pt> ...
	out := append(make([]string, 0, len(fields)), fields[:3]...)
	for _, f := range fields[3:] {
		if pt, err := strconv.Atoi(f); err == nil {
			if _, ok := strip[pt]; ok {
				continue
			}
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}
