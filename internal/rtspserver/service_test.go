package rtspserver

import (
	"testing"
	"time"

	"github.com/bluenviron/gortsplib/v5"
	"github.com/bluenviron/gortsplib/v5/pkg/base"
	"github.com/bluenviron/gortsplib/v5/pkg/description"
	"github.com/bluenviron/gortsplib/v5/pkg/format"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, port int) *Service {
	s := &Service{
		Address: "127.0.0.1",
		Port:    port,
	}
	err := s.Initialize()
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestServiceWorkQueueOrder(t *testing.T) {
	s := newTestService(t, 8590)

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		s.Submit(func() {
			got = append(got, i)
		})
	}
	s.SubmitAndWait(func() {})

	require.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestServiceSubmitAndWait(t *testing.T) {
	s := newTestService(t, 8591)

	ran := false
	s.SubmitAndWait(func() {
		ran = true
	})
	require.True(t, ran)
}

func TestServiceAddMountDuplicate(t *testing.T) {
	s := newTestService(t, 8592)

	m := &Mount{StreamID: "abc", URL: s.URL("abc")}
	err := s.AddMount(m)
	require.NoError(t, err)
	require.True(t, s.HasMount("abc"))

	err = s.AddMount(&Mount{StreamID: "abc"})
	require.ErrorAs(t, err, &ErrMountExists{})

	s.RemoveMount("abc")
	require.False(t, s.HasMount("abc"))
}

func TestServiceURL(t *testing.T) {
	s := &Service{Address: "127.0.0.1", Port: 8554}
	require.Equal(t, "rtsp://127.0.0.1:8554/xyz", s.URL("xyz"))
}

func TestServiceRemoveMountTeardownOrder(t *testing.T) {
	s := newTestService(t, 8593)

	var order []string
	s.teardownClient = func(_ *gortsplib.ServerSession, url string) {
		order = append(order, "client "+url)
	}

	m := &Mount{StreamID: "ord", URL: s.URL("ord")}
	require.NoError(t, s.AddMount(m))

	ss := &gortsplib.ServerSession{}
	require.True(t, m.addClient(ss))
	s.mutex.Lock()
	s.clientMounts[ss] = m
	s.mutex.Unlock()

	s.RemoveMount("ord")

	// clients first, then the mount disappears.
	require.Equal(t, []string{"client " + m.URL}, order)
	require.False(t, s.HasMount("ord"))
	require.Zero(t, m.ClientCount())

	// tracking is frozen: late registrations are refused.
	require.False(t, m.addClient(&gortsplib.ServerSession{}))
}

func TestServiceCloseAllSessionsForMount(t *testing.T) {
	s := newTestService(t, 8594)

	var closed []string
	s.teardownClient = func(_ *gortsplib.ServerSession, url string) {
		closed = append(closed, url)
	}

	m1 := &Mount{StreamID: "one", URL: s.URL("one")}
	m2 := &Mount{StreamID: "two", URL: s.URL("two")}
	require.NoError(t, s.AddMount(m1))
	require.NoError(t, s.AddMount(m2))

	ss1 := &gortsplib.ServerSession{}
	ss2 := &gortsplib.ServerSession{}
	m1.addClient(ss1)
	m2.addClient(ss2)
	s.mutex.Lock()
	s.clientMounts[ss1] = m1
	s.clientMounts[ss2] = m2
	s.mutex.Unlock()

	s.CloseAllSessionsForMount(s.URL("one"))

	require.Equal(t, []string{m1.URL}, closed)
}

func TestServiceDescribe(t *testing.T) {
	s := newTestService(t, 8595)

	desc := &description.Session{
		Medias: []*description.Media{{
			Type: description.MediaTypeVideo,
			Formats: []format.Format{&format.VP8{
				PayloadTyp: 96,
			}},
		}},
	}
	stream := &gortsplib.ServerStream{
		Server: s.srv,
		Desc:   desc,
	}
	err := stream.Initialize()
	require.NoError(t, err)

	m := &Mount{StreamID: "cam", URL: s.URL("cam"), Stream: stream}
	require.NoError(t, s.AddMount(m))

	u, err := base.ParseURL(m.URL)
	require.NoError(t, err)

	c := gortsplib.Client{
		Scheme:       u.Scheme,
		Host:         u.Host,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	}
	err = c.Start()
	require.NoError(t, err)
	defer c.Close()

	got, _, err := c.Describe(u)
	require.NoError(t, err)
	require.Len(t, got.Medias, 1)
	require.Equal(t, description.MediaTypeVideo, got.Medias[0].Type)

	s.RemoveMount("cam")

	_, _, err = c.Describe(u)
	require.Error(t, err)
}
