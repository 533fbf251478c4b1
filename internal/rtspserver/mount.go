package rtspserver

import (
	"sync"

	"github.com/bluenviron/gortsplib/v5"

	"rtspsource/internal/pipeline"
)

// Mount is a shared mount point: one pipeline feeding one stream, read
// by any number of RTSP clients.
type Mount struct {
	StreamID string
	URL      string
	Stream   *gortsplib.ServerStream
	Pipeline *pipeline.Pipeline

	// OnPlay is invoked whenever a client starts reading.
	OnPlay func()

	mutex    sync.Mutex
	sessions map[*gortsplib.ServerSession]struct{}
	frozen   bool
}

// addClient registers a reader session. It reports false once the
// mount stopped tracking, which makes late SETUPs fail.
func (m *Mount) addClient(ss *gortsplib.ServerSession) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.frozen {
		return false
	}
	if m.sessions == nil {
		m.sessions = make(map[*gortsplib.ServerSession]struct{})
	}
	m.sessions[ss] = struct{}{}
	return true
}

func (m *Mount) removeClient(ss *gortsplib.ServerSession) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.sessions, ss)
}

// clients snapshots the tracked reader sessions.
func (m *Mount) clients() []*gortsplib.ServerSession {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	out := make([]*gortsplib.ServerSession, 0, len(m.sessions))
	for ss := range m.sessions {
		out = append(out, ss)
	}
	return out
}

// stopTracking rejects further reader registrations and drops the
// current set.
func (m *Mount) stopTracking() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.frozen = true
	m.sessions = nil
}

// ClientCount returns the number of tracked reader sessions.
func (m *Mount) ClientCount() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.sessions)
}
