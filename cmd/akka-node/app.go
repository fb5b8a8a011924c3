package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/olegsmith/akka/pkg/config"
	"github.com/olegsmith/akka/pkg/link"
	"github.com/olegsmith/akka/pkg/link/mem"
	"github.com/olegsmith/akka/pkg/link/quic"
	"github.com/olegsmith/akka/pkg/link/tcp"
	"github.com/olegsmith/akka/pkg/link/udp"
	"github.com/olegsmith/akka/pkg/observability"
	"github.com/olegsmith/akka/pkg/remoting"
	"github.com/olegsmith/akka/pkg/wire"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	zap.L().Info("akka-node started", zap.String("app", cfg.AppName), zap.String("system", cfg.System))

	links, binds := buildLinks(cfg.Transports)
	if len(binds) == 0 {
		zap.L().Error("no usable transports configured")
		return 1
	}

	transport := remoting.New(remoting.Options{
		System:             cfg.System,
		Links:              links,
		Bind:               binds,
		GateTimeout:        time.Duration(cfg.Remoting.GateTimeoutMS) * time.Millisecond,
		CommandTimeout:     time.Duration(cfg.Remoting.CommandTimeoutMS) * time.Millisecond,
		OutboundQueue:      cfg.Remoting.OutboundQueue,
		UntrustedMode:      cfg.Remoting.UntrustedMode,
		LogLifecycleEvents: cfg.Remoting.LogLifecycleEvents,
		Handler:            logHandler{},
		Logger:             logger,
		Registerer:         prometheus.DefaultRegisterer,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := transport.Start(ctx); err != nil {
		zap.L().Error("failed to start transport", zap.Error(err))
		return 1
	}
	zap.L().Info("node is running", zap.String("default", transport.DefaultAddress().String()))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	done := transport.Shutdown()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		zap.L().Warn("shutdown timed out")
		return 1
	}
	return 0
}

// buildLinks instantiates the configured link kinds and collects the
// bind endpoints. Unknown kinds are skipped with a warning.
func buildLinks(cfgs []config.TransportConfig) ([]link.Link, []remoting.Endpoint) {
	var links []link.Link
	var binds []remoting.Endpoint
	for _, tc := range cfgs {
		var l link.Link
		switch tc.Kind {
		case "tcp":
			l = tcp.New()
		case "udp":
			l = udp.New()
		case "quic":
			l = quic.New()
		case "mem":
			l = mem.New()
		default:
			zap.L().Warn("transport kind not available", zap.String("kind", tc.Kind))
			continue
		}
		links = append(links, l)
		for _, addr := range tc.Listen {
			binds = append(binds, remoting.Endpoint{Scheme: l.Scheme(), Address: addr})
		}
	}
	return links, binds
}

// logHandler delivers inbound envelopes to the log. A real runtime
// replaces this with mailbox delivery.
type logHandler struct{}

func (logHandler) Deliver(env *wire.Envelope) {
	zap.L().Info("inbound message",
		zap.String("sender", env.Sender),
		zap.String("path", env.Path),
		zap.Int("bytes", len(env.Payload)))
}
