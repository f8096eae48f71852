package server

import (
	"fmt"

	"github.com/grandcat/zeroconf"

	"github.com/dotside-studios/davi-nfc-reader/buildinfo"
)

// mdnsTXT lists the TXT records advertised with the service.
func (s *Server) mdnsTXT() []string {
	return []string{
		"version=" + buildinfo.Version,
		"protocol=websocket",
		"path=/ws",
		"reader=" + s.config.Reader.Name(),
	}
}

// startMDNS registers the event service for auto-discovery.
func (s *Server) startMDNS(port int) error {
	server, err := zeroconf.Register(MDNSServiceName, MDNSServiceType, MDNSDomain, port, s.mdnsTXT(), nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	s.mu.Lock()
	s.mdnsServer = server
	s.mu.Unlock()
	s.logger.Printf("mDNS service registered: %s (%s) on port %d", MDNSServiceName, MDNSServiceType, port)
	return nil
}
