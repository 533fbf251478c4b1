// Package bridge ties a WebRTC peer session to a shared RTSP mount
// point: it answers JSEP offers, wires the peer's RTP/RTCP into the
// media pipeline over loopback UDP, and manages the mount lifecycle.
package bridge

// Handle identifies one peer session on the gateway side. The bridge
// treats it as an opaque comparable key.
type Handle any

// JSEP is the offer/answer container exchanged with the gateway.
type JSEP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Gateway is the host side of the plugin: it relays media toward the
// peer and delivers asynchronous events. Implementations must accept
// calls from any goroutine.
type Gateway interface {
	RelayRTP(handle Handle, video bool, buf []byte)
	RelayRTCP(handle Handle, video bool, buf []byte)
	PushEvent(handle Handle, transaction string, event map[string]any, jsep *JSEP)
}

// ResultKind classifies the synchronous outcome of HandleMessage.
type ResultKind int

// HandleMessage outcomes.
const (
	ResultPending ResultKind = iota
	ResultOK
	ResultError
)

// Result is the synchronous reply of HandleMessage. Pending means the
// message was queued and will be answered with a pushed event.
type Result struct {
	Kind ResultKind
	Code int
	Text string
}

func errorResult(code int, text string) Result {
	return Result{Kind: ResultError, Code: code, Text: text}
}

// Control error codes surfaced to the peer.
const (
	ErrCodeNoMessage      = 411
	ErrCodeInvalidJSON    = 412
	ErrCodeInvalidElement = 413
	ErrCodeInvalidURLID   = 414
)

func okEvent() map[string]any {
	return map[string]any{"source": "event", "result": "ok"}
}

func doneEvent() map[string]any {
	return map[string]any{"source": "event", "result": "done"}
}

func errorEvent(code int, text string) map[string]any {
	return map[string]any{"source": "event", "error_code": code, "error": text}
}
