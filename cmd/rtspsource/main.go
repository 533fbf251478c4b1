// Package main runs the bridge as a standalone process with a logging
// gateway, useful for development and for exercising the RTSP side.
package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"rtspsource/internal/bridge"
	"rtspsource/internal/conf"
)

// logGateway prints what a real gateway would relay to the peer.
type logGateway struct {
	log *slog.Logger
}

func (g *logGateway) RelayRTP(_ bridge.Handle, video bool, buf []byte) {
	g.log.Debug("relay RTP", "video", video, "bytes", len(buf))
}

func (g *logGateway) RelayRTCP(_ bridge.Handle, video bool, buf []byte) {
	g.log.Debug("relay RTCP", "video", video, "bytes", len(buf))
}

func (g *logGateway) PushEvent(_ bridge.Handle, transaction string,
	event map[string]any, jsep *bridge.JSEP,
) {
	g.log.Info("push event", "transaction", transaction, "event", event,
		"jsep", jsep != nil)
}

func main() {
	configPath := flag.String("config", "", "path of the configuration file")
	flag.Parse()

	cnf, err := conf.Load(*configPath)
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	logger := slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      cnf.LogLevel,
		TimeFormat: time.RFC3339,
	}))
	slog.SetDefault(logger)

	p := &bridge.Plugin{
		Conf:    cnf,
		Gateway: &logGateway{log: logger},
		Log:     logger,
	}
	err = p.Initialize()
	if err != nil {
		logger.Error("unable to initialize plugin", "err", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received signal, shutting down", "signal", sig)

	p.Close()
}
