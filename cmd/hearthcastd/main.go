// Command hearthcastd is the appliance daemon: it loads the on-disk
// configuration, wires the engine and its sinks, sources, and control
// surfaces together, and runs until told to stop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/hearthcast/engine/internal/clock"
	"github.com/hearthcast/engine/internal/config"
	"github.com/hearthcast/engine/internal/control"
	"github.com/hearthcast/engine/internal/discovery"
	"github.com/hearthcast/engine/internal/engine"
	"github.com/hearthcast/engine/internal/gpio"
	"github.com/hearthcast/engine/internal/sink"
	"github.com/hearthcast/engine/internal/store"
	"github.com/hearthcast/engine/internal/usbarbiter"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "", "Path to hearthcast.yaml configuration.")
		verbose    = pflag.BoolP("verbose", "v", false, "Enable debug logging.")
		help       = pflag.Bool("help", false, "Display help text.")
	)

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - hearthcast appliance daemon\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
	if *verbose {
		logger.SetLevel(log.DebugLevel)
	}

	if err := run(*configPath, logger); err != nil {
		logger.Fatal("hearthcastd exited", "error", err)
	}
}

func run(configPath string, logger *log.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	frame := clock.Frame{
		SampleRate:     cfg.Audio.SampleRate,
		Channels:       cfg.Audio.Channels,
		FramesPerBlock: cfg.Audio.FramesPerBlock,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	eng, err := engine.New(frame, cfg, logger)
	if err != nil {
		return fmt.Errorf("construct engine: %w", err)
	}
	if err := eng.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}
	if err := eng.SetMasterVolume(cfg.Audio.MasterVolume); err != nil {
		return fmt.Errorf("set master volume: %w", err)
	}
	if err := eng.SetBalance(cfg.Audio.Balance); err != nil {
		return fmt.Errorf("set balance: %w", err)
	}

	if err := wireOutputs(ctx, eng, cfg, frame, logger); err != nil {
		return fmt.Errorf("wire outputs: %w", err)
	}

	if err := usbarbiter.Watch(ctx, eng.Arbiter()); err != nil {
		logger.Warn("usb hotplug watch unavailable", "error", err)
	}

	announcer, err := discovery.NewAnnouncer(logger)
	if err != nil {
		logger.Warn("mdns announcer unavailable", "error", err)
	} else if err := announcer.Start(ctx, "hearthcast", controlPort(cfg.Control.ListenAddr)); err != nil {
		logger.Warn("mdns announce failed", "error", err)
	} else {
		defer announcer.Stop(context.Background())
	}

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer eng.Dispose(context.Background())

	controls := gpio.New(gpio.Config{
		Chip:           cfg.Gpio.Chip,
		VolumeA:        cfg.Gpio.VolumeA,
		VolumeB:        cfg.Gpio.VolumeB,
		MuteButton:     cfg.Gpio.MuteButton,
		SourceCycleBtn: cfg.Gpio.SourceCycleBtn,
	}, eng, cfg.Audio.MasterVolume, logger)
	if err := controls.Start(ctx); err != nil {
		logger.Warn("front-panel gpio unavailable", "error", err)
	} else {
		defer controls.Stop(context.Background())
	}

	srv := control.NewServer(eng, cfg.Control.ListenAddr, logger)
	if cfg.Control.TimestampFormat != "" {
		srv.SetTimestampFormat(cfg.Control.TimestampFormat)
	}
	runErr := make(chan error, 1)
	go func() { runErr <- srv.Run(ctx) }()

	logger.Info("hearthcastd running", "control_addr", cfg.Control.ListenAddr, "store", cfg.Store.Path)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-runErr:
		if err != nil {
			return fmt.Errorf("control server: %w", err)
		}
	}

	return eng.Stop(context.Background())
}

// wireOutputs constructs and registers one sink per configured output
// section, in the order the config lists them.
func wireOutputs(ctx context.Context, eng *engine.Engine, cfg config.Config, frame clock.Frame, logger *log.Logger) error {
	for _, out := range cfg.Outputs {
		var s sink.Sink
		switch out.Kind {
		case "local":
			s = sink.NewLocal(out.ID, out.Priority, out.Device, frame, logger)
		case "http":
			s = sink.NewHttpBroadcast(out.ID, out.Priority, frame, logger)
		case "netreceiver":
			s = sink.NewNetReceiver(out.ID, out.Priority, discovery.Receiver{Host: out.Addr}, out.Addr, frame, logger)
		default:
			logger.Warn("unknown output kind, skipping", "id", out.ID, "kind", out.Kind)
			continue
		}
		if err := eng.AddSink(ctx, s); err != nil {
			return fmt.Errorf("add sink %q: %w", out.ID, err)
		}
	}
	return nil
}

// controlPort extracts the numeric port from a ":NNNN" or "host:NNNN"
// listen address for mDNS advertisement; returns 0 on a malformed addr.
func controlPort(addr string) int {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			port := 0
			for _, c := range addr[i+1:] {
				if c < '0' || c > '9' {
					return 0
				}
				port = port*10 + int(c-'0')
			}
			return port
		}
	}
	return 0
}
