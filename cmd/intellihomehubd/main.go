// Command intellihomehubd is the hub's entrypoint: parses the CLI surface,
// wires every collaborator together, drives the module lifecycle
// (initialize -> configure -> start), and waits for SIGUSR1 or SIGINT/SIGTERM
// to shut everything down in reverse order (spec §4.8, §6). Grounded in the
// original's util/sysargs.py + util/module.py startup sequence.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rycus86/intellihomehub/internal/auth"
	"github.com/rycus86/intellihomehub/internal/config"
	"github.com/rycus86/intellihomehub/internal/dispatch"
	"github.com/rycus86/intellihomehub/internal/images"
	"github.com/rycus86/intellihomehub/internal/localize"
	"github.com/rycus86/intellihomehub/internal/logging"
	"github.com/rycus86/intellihomehub/internal/module"
	"github.com/rycus86/intellihomehub/internal/radio"
	"github.com/rycus86/intellihomehub/internal/registry"
	"github.com/rycus86/intellihomehub/internal/settings"
	"github.com/rycus86/intellihomehub/internal/store"
	"github.com/rycus86/intellihomehub/internal/transport/tcp"
	"github.com/rycus86/intellihomehub/internal/transport/udp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "intellihomehubd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}

	logger := logging.New()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1)
	defer cancel()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	catalog := registry.NewCatalog()
	catalog.Register(registry.PowerType)
	catalog.Register(registry.LightType)

	reg, err := registry.New(ctx, st, catalog)
	if err != nil {
		return fmt.Errorf("wire registry: %w", err)
	}
	hist, err := registry.NewHistory(ctx, st, nowUnixSeconds)
	if err != nil {
		return fmt.Errorf("wire history: %w", err)
	}
	svc := &registry.Service{Entities: reg, History: hist}

	authSvc, err := auth.New(ctx, st)
	if err != nil {
		return fmt.Errorf("wire auth: %w", err)
	}
	if _, err := settings.New(ctx, st); err != nil {
		return fmt.Errorf("wire settings: %w", err)
	}

	imgs := images.New(cfg.ImagesSearchPath, "images")
	loc := localize.New()

	transceiver, err := radio.NewLinux(radio.LinuxConfig{
		Config:     radio.Config{ChannelNumber: byte(cfg.RadioChannel)},
		CEPin:      cfg.RadioCEPin,
		IRQPin:     cfg.RadioIRQPin,
		SpiBusPath: cfg.RadioSPIBus,
	}, logger.With("component", "radio"))
	if err != nil {
		return fmt.Errorf("initialize radio transceiver: %w", err)
	}
	defer transceiver.Cleanup()

	link := radio.NewLink(transceiver, logger.With("component", "link"))

	dispatcher := dispatch.New(svc, authSvc, imgs, loc, link, logger.With("component", "dispatch"))
	link.RegisterHandler(dispatch.NewRadioHandler(dispatcher))

	modules := module.NewRegistry()
	modules.Register(&radioLinkModule{link: link, logger: logger.With("component", "link")})

	for _, ep := range cfg.Communication {
		switch ep.Mode {
		case "mcast":
			t := udp.New(udp.Config{Host: ep.Host, Port: ep.Port, Multicast: true}, dispatcher, authSvc, logger.With("component", "udp", "mode", "mcast"))
			modules.Register(udpModule{t: t, name: "udp-mcast"})
		case "bcast":
			t := udp.New(udp.Config{Host: ep.Host, Port: ep.Port, Broadcast: true}, dispatcher, authSvc, logger.With("component", "udp", "mode", "bcast"))
			modules.Register(udpModule{t: t, name: "udp-bcast"})
		case "udp":
			t := udp.New(udp.Config{Host: ep.Host, Port: ep.Port}, dispatcher, authSvc, logger.With("component", "udp", "mode", "plain"))
			modules.Register(udpModule{t: t, name: "udp"})
		case "tcp":
			t := tcp.New(tcp.Config{Host: ep.Host, Port: ep.Port}, dispatcher, logger.With("component", "tcp"))
			modules.Register(tcpModule{t: t})
		default:
			logger.Warn("unknown communication mode, skipping", "mode", ep.Mode)
		}
	}

	if err := modules.InitializeAll(ctx); err != nil {
		return err
	}
	if err := modules.ConfigureAll(ctx, st); err != nil {
		return err
	}
	if err := modules.StartAll(ctx); err != nil {
		return err
	}
	logger.Info("intellihomehubd started")

	<-ctx.Done()
	logger.Info("shutting down", "reason", ctx.Err())

	stopCtx := context.Background()
	for _, err := range modules.StopAll(stopCtx) {
		logger.Warn("module stop error", "err", err)
	}
	return nil
}

func nowUnixSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
