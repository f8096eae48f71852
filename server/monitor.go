package server

import (
	"context"
	"errors"

	"github.com/dotside-studios/davi-nfc-reader/nfc"
)

// OnCardInserted broadcasts the newly bound card and starts waiting for its
// removal. A pending wait for the previous card is cancelled first.
func (s *Server) OnCardInserted() {
	s.stopRemovalWait()

	status := s.Status()
	s.logger.Printf("Card inserted: %s %s", status.Protocol, status.PowerOnData)
	s.clients.Broadcast(newMessage(WSMessageTypeCardInserted, status))

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})
	s.waitMu.Lock()
	s.waitCancel, s.waitDone = cancel, done
	s.waitMu.Unlock()

	go s.awaitRemoval(ctx, done, status)
}

func (s *Server) awaitRemoval(ctx context.Context, done chan<- struct{}, inserted ReaderStatus) {
	defer close(done)

	err := s.config.Reader.WaitForCardRemoval(ctx)
	switch {
	case err == nil:
		s.logger.Printf("Card removed: %s", inserted.PowerOnData)
		s.clients.Broadcast(newMessage(WSMessageTypeCardRemoved, map[string]any{
			"protocol":    inserted.Protocol,
			"powerOnData": inserted.PowerOnData,
		}))
	case errors.Is(err, context.Canceled), errors.Is(err, nfc.ErrRemovalWaitStopped):
		if s.config.Debug {
			s.logger.Printf("Removal wait for %s stopped", inserted.PowerOnData)
		}
	default:
		s.logger.Printf("Removal wait failed: %v", err)
		s.clients.Broadcast(newMessage(WSMessageTypeError, map[string]any{
			"code":  ErrCodeReader,
			"error": err.Error(),
		}))
	}
}

// stopRemovalWait cancels the pending removal wait and blocks until it has
// returned, so the reader never sees two concurrent waits.
func (s *Server) stopRemovalWait() {
	s.waitMu.Lock()
	cancel, done := s.waitCancel, s.waitDone
	s.waitCancel, s.waitDone = nil, nil
	s.waitMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
