package conf

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rtspsource/internal/sdputil"
)

func writeFile(t *testing.T, name string, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cnf, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 4000, cnf.UDPPortMin)
	require.Equal(t, 5000, cnf.UDPPortMax)
	require.Equal(t, 5*time.Second, cnf.KeepaliveInterval)
	require.Equal(t, "localhost", cnf.Interface)
	require.Equal(t, 8554, cnf.RTSPPort)
	require.Equal(t, []sdputil.Codec{sdputil.CodecVP8, sdputil.CodecH264}, cnf.VideoCodecPriority)
}

func TestMissingFileUsesDefaults(t *testing.T) {
	cnf, err := Load(filepath.Join(t.TempDir(), "nope.cfg"))
	require.NoError(t, err)
	require.Equal(t, 4000, cnf.UDPPortMin)
}

func TestLegacyFormat(t *testing.T) {
	path := writeFile(t, "bridge.cfg", `
# comment
[general]
udp_port_range = "6000-7000"
keepalive_interval = 10
keepalive_service_url = "http://reg.local/keepalive"
status_service_url = "http://reg.local/status"
interface = "10.0.0.1"
video_codec_priority = "H264,VP8"
log_level = "debug"
`)

	cnf, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 6000, cnf.UDPPortMin)
	require.Equal(t, 7000, cnf.UDPPortMax)
	require.Equal(t, 10*time.Second, cnf.KeepaliveInterval)
	require.Equal(t, "http://reg.local/keepalive", cnf.KeepaliveServiceURL)
	require.Equal(t, "http://reg.local/status", cnf.StatusServiceURL)
	require.Equal(t, "10.0.0.1", cnf.Interface)
	require.Equal(t, []sdputil.Codec{sdputil.CodecH264, sdputil.CodecVP8}, cnf.VideoCodecPriority)
	require.Equal(t, slog.LevelDebug, cnf.LogLevel)
}

func TestYAMLFormat(t *testing.T) {
	path := writeFile(t, "bridge.yml", `
udp_port_range: "6000-7000"
keepalive_interval: 7
interface: 192.168.0.10
video_codec_priority: "VP8,H264"
rtsp_port: 9554
`)

	cnf, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 6000, cnf.UDPPortMin)
	require.Equal(t, 7000, cnf.UDPPortMax)
	require.Equal(t, 7*time.Second, cnf.KeepaliveInterval)
	require.Equal(t, "192.168.0.10", cnf.Interface)
	require.Equal(t, []sdputil.Codec{sdputil.CodecVP8, sdputil.CodecH264}, cnf.VideoCodecPriority)
	require.Equal(t, 9554, cnf.RTSPPort)
}

func TestPortRangeReversed(t *testing.T) {
	path := writeFile(t, "bridge.cfg", `udp_port_range = "7000-6000"`)

	cnf, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 6000, cnf.UDPPortMin)
	require.Equal(t, 7000, cnf.UDPPortMax)
}

func TestPortRangeOpenTop(t *testing.T) {
	path := writeFile(t, "bridge.cfg", `udp_port_range = "6000-0"`)

	cnf, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 6000, cnf.UDPPortMin)
	require.Equal(t, 65535, cnf.UDPPortMax)
}
