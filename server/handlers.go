package server

import (
	"context"
	"fmt"

	"github.com/dotside-studios/davi-nfc-reader/nfc"
)

// requestError is a client mistake, reported with its own error code.
type requestError struct {
	code string
	msg  string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{code: ErrCodeBadRequest, msg: fmt.Sprintf(format, args...)}
}

func (s *Server) registerReaderHandlers() error {
	routes := map[string]HandlerFunc{
		WSRequestReaderStatus: s.handleStatusRequest,
		WSRequestOpenChannel:  s.handleOpenChannel,
		WSRequestCloseChannel: s.handleCloseChannel,
		WSRequestTransmitAPDU: s.handleTransmitAPDU,
	}
	for messageType, handler := range routes {
		if err := s.Handle(messageType, handler); err != nil {
			return err
		}
	}
	return nil
}

func reply(client *Client, req WebsocketRequest, payload any) error {
	return client.Send(WebsocketResponse{
		ID:      req.ID,
		Type:    req.Type,
		Success: true,
		Payload: payload,
	})
}

func (s *Server) handleStatusRequest(_ context.Context, client *Client, req WebsocketRequest) error {
	return reply(client, req, s.Status())
}

func (s *Server) handleOpenChannel(_ context.Context, client *Client, req WebsocketRequest) error {
	if err := s.config.Reader.OpenPhysicalChannel(); err != nil {
		return err
	}
	return reply(client, req, s.Status())
}

func (s *Server) handleCloseChannel(_ context.Context, client *Client, req WebsocketRequest) error {
	s.config.Reader.ClosePhysicalChannel()
	return reply(client, req, s.Status())
}

// handleTransmitAPDU expects {"apdu": "<hex>"} and answers {"response": "<hex>"}.
func (s *Server) handleTransmitAPDU(_ context.Context, client *Client, req WebsocketRequest) error {
	raw, ok := req.Payload["apdu"].(string)
	if !ok || raw == "" {
		return badRequest("payload.apdu must be a hex string")
	}
	apdu, err := nfc.HexToBytes(raw)
	if err != nil {
		return badRequest("invalid apdu %q: %v", raw, err)
	}
	resp, err := s.config.Reader.TransmitAPDU(apdu)
	if err != nil {
		return err
	}
	return reply(client, req, map[string]string{"response": nfc.BytesToHex(resp)})
}
