package main

import (
	"context"

	"github.com/rycus86/intellihomehub/internal/logging"
	"github.com/rycus86/intellihomehub/internal/radio"
	"github.com/rycus86/intellihomehub/internal/store"
	"github.com/rycus86/intellihomehub/internal/transport/tcp"
	"github.com/rycus86/intellihomehub/internal/transport/udp"
)

// radioLinkModule adapts the Link Manager's blocking Run loop to the
// module.Module lifecycle: Start launches it on its own goroutine, Stop
// cancels the context Run was given and waits for it to return.
type radioLinkModule struct {
	link   *radio.Link
	logger logging.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func (m radioLinkModule) Name() string { return "radio-link" }

func (m radioLinkModule) Initialize(ctx context.Context) error { return nil }

func (m radioLinkModule) Configure(ctx context.Context, st *store.Store) error { return nil }

func (m *radioLinkModule) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go func() {
		defer close(m.done)
		if err := m.link.Run(runCtx); err != nil {
			m.logger.Warn("link manager stopped", "err", err)
		}
	}()
	return nil
}

func (m *radioLinkModule) Stop(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
	return nil
}

// udpModule adapts a udp.Transport to module.Module.
type udpModule struct {
	t    *udp.Transport
	name string
}

func (m udpModule) Name() string                                        { return m.name }
func (m udpModule) Initialize(ctx context.Context) error                { return nil }
func (m udpModule) Configure(ctx context.Context, st *store.Store) error { return nil }
func (m udpModule) Start(ctx context.Context) error                     { return m.t.Start(ctx) }
func (m udpModule) Stop(ctx context.Context) error                      { return m.t.Stop(ctx) }

// tcpModule adapts a tcp.Transport to module.Module.
type tcpModule struct {
	t *tcp.Transport
}

func (m tcpModule) Name() string                                        { return "tcp" }
func (m tcpModule) Initialize(ctx context.Context) error                { return nil }
func (m tcpModule) Configure(ctx context.Context, st *store.Store) error { return nil }
func (m tcpModule) Start(ctx context.Context) error                     { return m.t.Start(ctx) }
func (m tcpModule) Stop(ctx context.Context) error                      { return m.t.Stop(ctx) }
