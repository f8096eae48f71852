package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/dotside-studios/davi-nfc-reader/nfc"
	"github.com/dotside-studios/davi-nfc-reader/nfc/libnfc"
	"github.com/dotside-studios/davi-nfc-reader/nfc/pcsc"
	"github.com/dotside-studios/davi-nfc-reader/server"
)

// backend is an adapter that owns a device handle.
type backend interface {
	nfc.Adapter
	Close() error
}

type backendOpener func(opts options, logger *log.Logger) (backend, error)

func openBackend(opts options, logger *log.Logger) (backend, error) {
	switch opts.backend {
	case backendLibNFC:
		return libnfc.Open(opts.device, libnfc.WithLogger(logger), libnfc.WithDebug(opts.debug))
	case backendPCSC:
		return pcsc.Open(opts.device, pcsc.WithLogger(logger), pcsc.WithDebug(opts.debug))
	}
	return nil, fmt.Errorf("unknown backend %q", opts.backend)
}

func listDevices(backendName string) ([]string, error) {
	if backendName == backendLibNFC {
		return libnfc.ListDevices()
	}
	return pcsc.ListReaders()
}

// Agent wires a backend, the plugin and the event server together.
type Agent struct {
	opts   options
	open   backendOpener
	logger *log.Logger

	device backend
	plugin *nfc.Plugin
	server *server.Server
}

// NewAgent creates an agent that opens its backend with open.
func NewAgent(opts options, open backendOpener) *Agent {
	return &Agent{
		opts:   opts,
		open:   open,
		logger: log.New(os.Stderr, "[agent] ", log.LstdFlags),
	}
}

func (a *Agent) backendLogger() *log.Logger {
	return log.New(os.Stderr, "["+a.opts.backend+"] ", log.LstdFlags)
}

// Start opens the device, registers the plugin, starts the server and turns
// on card detection. On failure everything started so far is released.
func (a *Agent) Start() (err error) {
	defer func() {
		if err != nil {
			a.Stop()
		}
	}()

	device, err := a.open(a.opts, a.backendLogger())
	if err != nil {
		return fmt.Errorf("open %s backend: %w", a.opts.backend, err)
	}
	a.device = device

	cfg := nfc.DefaultConfig(nfc.NewHostRef(nfc.HostFunc(func() (nfc.Adapter, error) {
		return device, nil
	})))
	cfg.PlatformSoundEnabled = a.opts.platformSound
	cfg.CardInsertionPollingInterval = a.opts.insertionPoll
	cfg.CardRemovalPollingInterval = a.opts.removalPoll
	cfg.ForcePollingRemoval = a.opts.forcePolling
	cfg.Debug = a.opts.debug

	if a.plugin, err = nfc.NewPlugin(cfg); err != nil {
		return err
	}
	reader := a.plugin.Reader()
	for _, p := range a.opts.protocols {
		if err := reader.ActivateProtocol(p); err != nil {
			return err
		}
	}

	srv, err := server.New(server.Config{
		Reader:     reader,
		Port:       a.opts.port,
		EnableMDNS: a.opts.mdns,
		Debug:      a.opts.debug,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	a.server = srv

	if err := reader.OnStartDetection(); err != nil {
		return err
	}
	a.logger.Printf("Card detection started for %s", joinProtocols(a.opts.protocols))
	return nil
}

// Stop reverses Start. It is safe to call on a partially started agent.
func (a *Agent) Stop() {
	if a.plugin != nil {
		if r := a.plugin.Reader(); r != nil {
			if err := r.OnStopDetection(); err != nil && !errors.Is(err, nfc.ErrInvalidState) {
				a.logger.Printf("Stop detection: %v", err)
			}
		}
	}
	if a.server != nil {
		a.server.Stop()
		a.server = nil
	}
	if a.plugin != nil {
		a.plugin.Unregister()
		a.plugin = nil
	}
	if a.device != nil {
		if err := a.device.Close(); err != nil {
			a.logger.Printf("Close device: %v", err)
		}
		a.device = nil
	}
}
