// Package server publishes reader events over WebSocket and exposes the
// reader state over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"

	"github.com/dotside-studios/davi-nfc-reader/buildinfo"
	"github.com/dotside-studios/davi-nfc-reader/nfc"
)

// Reader is the part of *nfc.Reader the server drives.
type Reader interface {
	Name() string
	IsCurrentProtocol(p nfc.Protocol) bool
	IsPhysicalChannelOpen() bool
	CheckCardPresence() bool
	PowerOnData() string
	TechnicalData() string
	OpenPhysicalChannel() error
	ClosePhysicalChannel()
	TransmitAPDU(apdu []byte) ([]byte, error)
	SetCallback(cb nfc.CardInsertionCallback)
	WaitForCardRemoval(ctx context.Context) error
}

// Config holds the server configuration
type Config struct {
	Reader     Reader
	Port       int
	EnableMDNS bool
	Logger     *log.Logger
	Debug      bool
}

// ReaderStatus is the reader snapshot served over HTTP and pushed with
// card events.
type ReaderStatus struct {
	Name          string          `json:"name"`
	CardInserted  bool            `json:"cardInserted"`
	CardPresent   bool            `json:"cardPresent"`
	ChannelOpen   bool            `json:"channelOpen"`
	Protocol      string          `json:"protocol,omitempty"`
	PowerOnData   string          `json:"powerOnData,omitempty"`
	TechnicalData json.RawMessage `json:"technicalData,omitempty"`
}

// Server manages the HTTP and WebSocket server
type Server struct {
	config   Config
	logger   *log.Logger
	clients  *WebsocketClientManager
	handlers *HandlerRegistry
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	mdnsServer *zeroconf.Server

	// Pending removal wait for the last inserted card.
	waitMu     sync.Mutex
	waitCancel context.CancelFunc
	waitDone   chan struct{}
}

// New creates a server for cfg.Reader. The reader's insertion callback is
// installed by Start.
func New(config Config) (*Server, error) {
	if config.Reader == nil {
		return nil, errors.New("server: reader is required")
	}
	if config.Port < 0 || config.Port > 65535 {
		return nil, fmt.Errorf("server: invalid port %d", config.Port)
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[server] ", log.LstdFlags)
	}

	s := &Server{
		config:   config,
		logger:   logger,
		clients:  NewClientManager(logger),
		handlers: NewHandlerRegistry(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	if err := s.registerReaderHandlers(); err != nil {
		return nil, err
	}
	return s, nil
}

// Handle registers a WebSocket request handler.
func (s *Server) Handle(messageType string, handler HandlerFunc) error {
	return s.handlers.Handle(messageType, handler)
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	apiV1 := "/api/v1"

	mux.HandleFunc(apiV1+"/health", enableCORS(getOnly(s.handleHealthCheck)))
	mux.HandleFunc(apiV1+"/reader", enableCORS(getOnly(s.handleReaderStatus)))
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/", enableCORS(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("NFC Reader Server Running"))
	}))
	return mux
}

// Start listens on the configured port, installs the server as the reader's
// insertion callback and registers the mDNS service when enabled.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.config.Port, err)
	}

	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.listener = ln
	s.httpServer = httpServer
	s.mu.Unlock()

	go func() {
		s.logger.Printf("Starting server on %s", ln.Addr())
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("HTTP server error: %v", err)
		}
	}()

	s.config.Reader.SetCallback(s)

	if s.config.EnableMDNS {
		if err := s.startMDNS(s.Port()); err != nil {
			s.logger.Printf("Warning: Failed to start mDNS service: %v", err)
			s.logger.Printf("Auto-discovery will not be available, but server will continue normally")
		}
	}
	return nil
}

// Port returns the bound port, or the configured one before Start.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return s.config.Port
}

// Stop stops the HTTP server gracefully
func (s *Server) Stop() {
	s.config.Reader.SetCallback(nil)
	s.stopRemovalWait()
	s.cancel()

	s.mu.Lock()
	mdnsServer, httpServer := s.mdnsServer, s.httpServer
	s.mdnsServer, s.httpServer, s.listener = nil, nil, nil
	s.mu.Unlock()

	if mdnsServer != nil {
		mdnsServer.Shutdown()
		s.logger.Printf("mDNS service stopped")
	}
	if httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			s.logger.Printf("Server shutdown error: %v", err)
		}
	}
	s.clients.CloseAll()
}

// Status returns a snapshot of the reader.
func (s *Server) Status() ReaderStatus {
	r := s.config.Reader
	status := ReaderStatus{
		Name:        r.Name(),
		ChannelOpen: r.IsPhysicalChannelOpen(),
		PowerOnData: r.PowerOnData(),
	}
	for _, p := range nfc.SupportedProtocols() {
		if r.IsCurrentProtocol(p) {
			status.Protocol = string(p)
			status.CardInserted = true
			break
		}
	}
	if status.CardInserted {
		status.CardPresent = r.CheckCardPresence()
	}
	if td := r.TechnicalData(); td != "" {
		status.TechnicalData = json.RawMessage(td)
	}
	return status
}

// enableCORS is a middleware that adds CORS headers to responses
func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", CORSAllowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", CORSAllowMethods)
		w.Header().Set("Access-Control-Allow-Headers", CORSAllowHeaders)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

func getOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// handleHealthCheck serves GET /api/v1/health.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":    "ok",
		"version":   buildinfo.FullVersion(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleReaderStatus serves GET /api/v1/reader.
func (s *Server) handleReaderStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Status())
}

// handleWebSocket upgrades the connection, greets the client and routes its
// requests until it disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("WebSocket upgrade error: %v", err)
		return
	}
	client := s.clients.Register(conn)
	s.logger.Printf("WebSocket client %s connected from %s", client.ID, r.RemoteAddr)

	defer func() {
		s.clients.Unregister(client)
		client.close()
		s.logger.Printf("WebSocket client %s disconnected", client.ID)
	}()

	hello := newMessage(WSMessageTypeHello, map[string]any{
		"clientId": client.ID,
		"version":  buildinfo.FullVersion(),
		"reader":   s.Status(),
	})
	if err := client.Send(hello); err != nil {
		return
	}

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		s.dispatch(client, message)
	}
}

func (s *Server) dispatch(client *Client, message []byte) {
	var req WebsocketRequest
	if err := json.Unmarshal(message, &req); err != nil {
		s.logger.Printf("Failed to parse WebSocket message: %v", err)
		s.sendError(client, "", WSMessageTypeError, ErrCodeParse, "Invalid message format")
		return
	}

	handler, ok := s.handlers.Get(req.Type)
	if !ok {
		s.sendError(client, req.ID, req.Type, ErrCodeUnknownType, fmt.Sprintf("Unknown message type: %s", req.Type))
		return
	}
	if err := handler(s.ctx, client, req); err != nil {
		if s.config.Debug {
			s.logger.Printf("Handler error for message type '%s': %v", req.Type, err)
		}
		code := ErrCodeReader
		var reqErr *requestError
		if errors.As(err, &reqErr) {
			code = reqErr.code
		}
		s.sendError(client, req.ID, req.Type, code, err.Error())
	}
}

func (s *Server) sendError(client *Client, requestID, responseType, code, message string) {
	client.Send(WebsocketResponse{
		ID:      requestID,
		Type:    responseType,
		Success: false,
		Code:    code,
		Error:   message,
	})
}
