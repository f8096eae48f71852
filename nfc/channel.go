package nfc

import (
	"log"

	"github.com/dotside-studios/davi-nfc-reader/internal/syncutil"
)

// minResponseLen is SW1 SW2.
const minResponseLen = 2

// Channel tracks the physical channel of the bound technology.
//
// Close only flips the state; the transport is left connected until the
// next Bind so that presence polling keeps working after the host closes.
type Channel struct {
	mu     syncutil.Mutex
	tech   TagTechnology
	open   bool
	logger *log.Logger
}

// NewChannel creates a closed, unbound channel.
func NewChannel(logger *log.Logger) *Channel {
	return &Channel{logger: logger}
}

// Bind replaces the bound technology and resets the channel to closed.
// The previous technology, if any, is disconnected.
func (c *Channel) Bind(tech TagTechnology) {
	c.mu.Lock()
	prev := c.tech
	c.tech = tech
	c.open = false
	c.mu.Unlock()

	if prev != nil && prev != tech {
		if err := prev.Close(); err != nil {
			c.logger.Printf("closing previous technology: %v", err)
		}
	}
}

// Technology returns the bound technology, or nil.
func (c *Channel) Technology() TagTechnology {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tech
}

// Open connects the bound technology unless it is already connected.
func (c *Channel) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tech == nil {
		return NewInvalidStateError("OpenPhysicalChannel", "no tag bound")
	}
	if c.tech.IsConnected() {
		c.logger.Printf("card already connected")
		c.open = true
		return nil
	}
	if err := c.tech.Connect(); err != nil {
		return NewChannelIOError("OpenPhysicalChannel", "error while opening physical channel", err)
	}
	c.open = true
	return nil
}

// Close marks the channel closed.
func (c *Channel) Close() {
	c.mu.Lock()
	c.open = false
	c.mu.Unlock()
}

// IsOpen reports the channel state.
func (c *Channel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Transmit sends data through the bound technology. via, when non-nil,
// replaces the raw transceive.
func (c *Channel) Transmit(data []byte, via func([]byte) ([]byte, error)) ([]byte, error) {
	c.mu.Lock()
	tech, open := c.tech, c.open
	c.mu.Unlock()

	if tech == nil {
		return nil, NewInvalidStateError("TransmitAPDU", "no tag bound")
	}
	if !open {
		return nil, NewInvalidStateError("TransmitAPDU", "physical channel is closed")
	}

	if via != nil {
		resp, err := via(data)
		if err != nil {
			return nil, NewChannelIOError("TransmitAPDU", "error while transmitting APDU", err)
		}
		return resp, nil
	}

	resp, err := tech.Transceive(data)
	if err != nil {
		return nil, NewChannelIOError("TransmitAPDU", "error while transmitting APDU", err)
	}
	if len(resp) < minResponseLen {
		return nil, Errorf(ErrCodeChannelIO, "TransmitAPDU", "response too short: %d bytes", len(resp))
	}
	return resp, nil
}
