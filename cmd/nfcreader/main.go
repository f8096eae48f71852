// Command nfcreader hosts the contactless reader plugin on a PC/SC or libnfc
// device and publishes card insertion and removal over WebSocket.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dotside-studios/davi-nfc-reader/buildinfo"
)

func main() {
	opts, err := parseOptions(os.Args[1:], os.Getenv, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("Invalid options: %v", err)
	}

	if opts.showVersion {
		fmt.Println(buildinfo.BuildInfo())
		return
	}

	if opts.listDevices {
		devices, err := listDevices(opts.backend)
		if err != nil {
			log.Fatalf("List %s devices: %v", opts.backend, err)
		}
		for _, d := range devices {
			fmt.Println(d)
		}
		return
	}

	log.Printf("Starting %s %s", buildinfo.Name, buildinfo.FullVersion())
	agent := NewAgent(opts, openBackend)
	if err := agent.Start(); err != nil {
		log.Fatalf("Failed to start agent: %v", err)
	}
	defer agent.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("Shutdown signal received, stopping...")
}
