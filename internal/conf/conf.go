// Package conf contains the process configuration.
package conf

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"rtspsource/internal/sdputil"
)

// Conf is the process configuration. Every field has a default; a
// missing file or key is not an error.
type Conf struct {
	UDPPortMin          int
	UDPPortMax          int
	KeepaliveInterval   time.Duration
	KeepaliveServiceURL string
	StatusServiceURL    string
	Interface           string
	VideoCodecPriority  []sdputil.Codec
	RTSPPort            int
	LogLevel            slog.Level
	PeriodicPLIInterval time.Duration
}

// raw mirrors the recognized keys of the configuration file.
type raw struct {
	UDPPortRange        string `yaml:"udp_port_range"`
	KeepaliveInterval   int    `yaml:"keepalive_interval"`
	KeepaliveServiceURL string `yaml:"keepalive_service_url"`
	StatusServiceURL    string `yaml:"status_service_url"`
	Interface           string `yaml:"interface"`
	VideoCodecPriority  string `yaml:"video_codec_priority"`
	RTSPPort            int    `yaml:"rtsp_port"`
	LogLevel            string `yaml:"log_level"`
	PeriodicPLIInterval int    `yaml:"periodic_pli_interval"`
}

// Default returns the configuration with every field defaulted.
func Default() *Conf {
	return &Conf{
		UDPPortMin:         4000,
		UDPPortMax:         5000,
		KeepaliveInterval:  5 * time.Second,
		Interface:          "localhost",
		VideoCodecPriority: []sdputil.Codec{sdputil.CodecVP8, sdputil.CodecH264},
		RTSPPort:           8554,
		LogLevel:           slog.LevelInfo,
	}
}

// Load reads the configuration from path. YAML files are recognized by
// their extension; anything else is parsed as the legacy section-less
// `key = "value"` format. An empty path returns the defaults.
func Load(path string) (*Conf, error) {
	cnf := Default()

	if path == "" {
		return cnf, nil
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cnf, nil
		}
		return nil, err
	}

	var rw raw
	switch filepath.Ext(path) {
	case ".yml", ".yaml":
		err = yaml.Unmarshal(buf, &rw)
		if err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	default:
		parseLegacy(string(buf), &rw)
	}

	cnf.apply(&rw)
	return cnf, nil
}

// parseLegacy fills rw from `key = "value"` lines. Comments, blank
// lines and category headers are skipped.
func parseLegacy(data string, rw *raw) {
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") ||
			strings.HasPrefix(line, ";") || strings.HasPrefix(line, "[") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"`)

		switch key {
		case "udp_port_range":
			rw.UDPPortRange = value
		case "keepalive_interval":
			rw.KeepaliveInterval, _ = strconv.Atoi(value)
		case "keepalive_service_url":
			rw.KeepaliveServiceURL = value
		case "status_service_url":
			rw.StatusServiceURL = value
		case "interface":
			rw.Interface = value
		case "video_codec_priority":
			rw.VideoCodecPriority = value
		case "rtsp_port":
			rw.RTSPPort, _ = strconv.Atoi(value)
		case "log_level":
			rw.LogLevel = value
		case "periodic_pli_interval":
			rw.PeriodicPLIInterval, _ = strconv.Atoi(value)
		}
	}
}

func (c *Conf) apply(rw *raw) {
	if rw.UDPPortRange != "" {
		min, max, ok := parsePortRange(rw.UDPPortRange)
		if ok {
			c.UDPPortMin = min
			c.UDPPortMax = max
		}
	}

	if rw.KeepaliveInterval > 0 {
		c.KeepaliveInterval = time.Duration(rw.KeepaliveInterval) * time.Second
	}
	c.KeepaliveServiceURL = rw.KeepaliveServiceURL
	c.StatusServiceURL = rw.StatusServiceURL

	if rw.Interface != "" {
		c.Interface = rw.Interface
	}

	if rw.VideoCodecPriority != "" {
		var priority []sdputil.Codec
		for _, name := range strings.Split(rw.VideoCodecPriority, ",") {
			codec := sdputil.ParseCodec(strings.TrimSpace(name))
			if codec != sdputil.CodecInvalid {
				priority = append(priority, codec)
			}
		}
		c.VideoCodecPriority = priority
	}

	if rw.RTSPPort > 0 {
		c.RTSPPort = rw.RTSPPort
	}

	switch strings.ToLower(rw.LogLevel) {
	case "debug":
		c.LogLevel = slog.LevelDebug
	case "warn":
		c.LogLevel = slog.LevelWarn
	case "error":
		c.LogLevel = slog.LevelError
	case "", "info":
	}

	if rw.PeriodicPLIInterval > 0 {
		c.PeriodicPLIInterval = time.Duration(rw.PeriodicPLIInterval) * time.Millisecond
	}
}

// parsePortRange splits a "min-max" range, swapping reversed bounds.
// A zero upper bound means the top of the UDP port space.
func parsePortRange(s string) (int, int, bool) {
	i := strings.LastIndexByte(s, '-')
	if i < 0 {
		return 0, 0, false
	}

	min, err1 := strconv.Atoi(strings.TrimSpace(s[:i]))
	max, err2 := strconv.Atoi(strings.TrimSpace(s[i+1:]))
	if err1 != nil || err2 != nil || min < 0 {
		return 0, 0, false
	}

	if max == 0 {
		max = 65535
	}
	if min > max {
		min, max = max, min
	}
	return min, max, true
}
