package main

import (
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dotside-studios/davi-nfc-reader/nfc"
)

const (
	backendLibNFC = "libnfc"
	backendPCSC   = "pcsc"

	defaultPort = 18080
	envPrefix   = "NFC_READER_"
)

type options struct {
	backend       string
	device        string
	protocols     []nfc.Protocol
	insertionPoll time.Duration
	removalPoll   time.Duration
	forcePolling  bool
	platformSound bool
	port          int
	mdns          bool
	debug         bool
	listDevices   bool
	showVersion   bool
}

// envDefaults reads NFC_READER_* variables into the flag defaults.
type envDefaults struct {
	getenv func(string) string
	err    error
}

func (e *envDefaults) lookup(name string) (string, bool) {
	v := e.getenv(envPrefix + name)
	return v, v != ""
}

func (e *envDefaults) str(name, def string) string {
	if v, ok := e.lookup(name); ok {
		return v
	}
	return def
}

func (e *envDefaults) integer(name string, def int) int {
	v, ok := e.lookup(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil && e.err == nil {
		e.err = fmt.Errorf("%s%s: %w", envPrefix, name, err)
	}
	if err != nil {
		return def
	}
	return n
}

func (e *envDefaults) boolean(name string, def bool) bool {
	v, ok := e.lookup(name)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil && e.err == nil {
		e.err = fmt.Errorf("%s%s: %w", envPrefix, name, err)
	}
	if err != nil {
		return def
	}
	return b
}

func (e *envDefaults) duration(name string, def time.Duration) time.Duration {
	v, ok := e.lookup(name)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil && e.err == nil {
		e.err = fmt.Errorf("%s%s: %w", envPrefix, name, err)
	}
	if err != nil {
		return def
	}
	return d
}

// parseOptions reads flags from args on top of NFC_READER_* environment
// defaults.
func parseOptions(args []string, getenv func(string) string, output io.Writer) (options, error) {
	env := &envDefaults{getenv: getenv}
	var opts options
	var protocols string

	fs := flag.NewFlagSet("nfcreader", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.backend, "backend", env.str("BACKEND", backendPCSC), "Reader backend: pcsc or libnfc")
	fs.StringVar(&opts.device, "device", env.str("DEVICE", ""), "PC/SC reader name or libnfc connstring (default: first found)")
	fs.StringVar(&protocols, "protocols", env.str("PROTOCOLS", joinProtocols(nfc.SupportedProtocols())), "Comma-separated protocols to activate")
	fs.DurationVar(&opts.insertionPoll, "insertion-poll", env.duration("INSERTION_POLL", 0), "Card presence check delay (0 keeps the backend default)")
	fs.DurationVar(&opts.removalPoll, "removal-poll", env.duration("REMOVAL_POLL", nfc.DefaultCardRemovalPollingInterval), "Card removal polling period")
	fs.BoolVar(&opts.forcePolling, "force-polling", env.boolean("FORCE_POLLING", false), "Poll for card removal even when the backend reports it")
	fs.BoolVar(&opts.platformSound, "sound", env.boolean("SOUND", true), "Keep the reader's discovery sound")
	fs.IntVar(&opts.port, "port", env.integer("PORT", defaultPort), "Port to listen on for HTTP and WebSocket clients")
	fs.BoolVar(&opts.mdns, "mdns", env.boolean("MDNS", true), "Advertise the service over mDNS")
	fs.BoolVar(&opts.debug, "debug", env.boolean("DEBUG", false), "Enable debug logging")
	fs.BoolVar(&opts.listDevices, "list", false, "List available devices for the backend and exit")
	fs.BoolVar(&opts.showVersion, "version", false, "Print version information and exit")

	if env.err != nil {
		return options{}, env.err
	}
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	switch opts.backend {
	case backendLibNFC, backendPCSC:
	default:
		return options{}, fmt.Errorf("unknown backend %q (want %s or %s)", opts.backend, backendPCSC, backendLibNFC)
	}

	var err error
	if opts.protocols, err = parseProtocols(protocols); err != nil {
		return options{}, err
	}
	return opts, nil
}

func parseProtocols(s string) ([]nfc.Protocol, error) {
	var out []nfc.Protocol
	for _, name := range strings.Split(s, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		p, ok := lookupProtocol(name)
		if !ok {
			return nil, fmt.Errorf("unknown protocol %q (supported: %s)", name, joinProtocols(nfc.SupportedProtocols()))
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one protocol must be activated")
	}
	return out, nil
}

func lookupProtocol(name string) (nfc.Protocol, bool) {
	for _, p := range nfc.SupportedProtocols() {
		if strings.EqualFold(string(p), name) {
			return p, true
		}
	}
	return "", false
}

func joinProtocols(ps []nfc.Protocol) string {
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = string(p)
	}
	return strings.Join(names, ",")
}
