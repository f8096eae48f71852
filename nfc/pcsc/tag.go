package pcsc

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/dotside-studios/davi-nfc-reader/internal/syncutil"
	core "github.com/dotside-studios/davi-nfc-reader/nfc"
)

var (
	errTagLost      = errors.New("card was removed")
	errNotConnected = errors.New("technology is not connected")
)

// Reader key slot used for MIFARE Classic authentication.
const volatileKeySlot = 0x00

// card is the subset of *scard.Card used for exchanges.
type card interface {
	Transmit(cmd []byte) ([]byte, error)
}

// session is one connection to a card in the field.
type session struct {
	card    card
	atr     []byte
	release func() error
}

// tag is the card currently connected on the reader.
type tag struct {
	adapter *Adapter
	sess    *session
	kind    cardKind
	uid     []byte
	lost    atomic.Bool

	mu    sync.Mutex
	cache map[string]core.TagTechnology
}

func (t *tag) ID() []byte         { return slices.Clone(t.uid) }
func (t *tag) TechList() []string { return t.kind.techList() }

func (t *tag) uidHex() string { return core.BytesToHex(t.uid) }

func (t *tag) Technology(id string) (core.TagTechnology, error) {
	if !slices.Contains(t.kind.techList(), id) {
		return nil, fmt.Errorf("technology %s not advertised by %s card", id, t.kind)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if tech, ok := t.cache[id]; ok {
		return tech, nil
	}
	base := &baseTech{tag: t}
	var tech core.TagTechnology
	switch id {
	case core.TechIsoDep:
		tech = &isoDep{base}
	case core.TechNfcA:
		tech = &nfcA{base}
	case core.TechMifareClassic:
		tech = &mifareClassic{base}
	case core.TechMifareUltralight:
		tech = &mifareUltralight{base}
	default:
		return nil, fmt.Errorf("technology %s is not implemented", id)
	}
	t.cache[id] = tech
	return tech, nil
}

// command sends a pseudo-APDU and returns the data of a 90 00 response.
func (t *tag) command(op string, apdu []byte) ([]byte, error) {
	raw, err := t.adapter.transmit(t, apdu)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	resp, err := parseResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := resp.err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return resp.data, nil
}

// baseTech is the PC/SC connection shared by the technologies of a card.
// The card is connected by the adapter; Connect only opens the technology.
type baseTech struct {
	tag       *tag
	mu        syncutil.Mutex
	connected bool
}

func (b *baseTech) Connect() error {
	if b.tag.lost.Load() {
		return errTagLost
	}
	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	return nil
}

func (b *baseTech) Close() error {
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
	return nil
}

func (b *baseTech) isConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *baseTech) IsConnected() bool {
	return b.isConnected() && b.tag.adapter.cardPresent(b.tag)
}

func (b *baseTech) check() error {
	if !b.isConnected() {
		return errNotConnected
	}
	if b.tag.lost.Load() {
		return errTagLost
	}
	return nil
}

// Transceive passes a native frame through the reader.
func (b *baseTech) Transceive(data []byte) ([]byte, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	return b.tag.command("transceive", directAPDU(data))
}

type isoDep struct {
	*baseTech
}

// Transceive sends an APDU to the card unchanged.
func (d *isoDep) Transceive(data []byte) ([]byte, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	return d.tag.adapter.transmit(d.tag, data)
}

// HiLayerResponse is not exposed by PC/SC readers.
func (d *isoDep) HiLayerResponse() []byte { return nil }

// HistoricalBytes returns the ATS historical bytes the reader maps into the ATR.
func (d *isoDep) HistoricalBytes() []byte { return atrHistoricalBytes(d.tag.sess.atr) }

type nfcA struct {
	*baseTech
}

func (n *nfcA) Atqa() []byte {
	atqa, _ := n.tag.kind.anticollision()
	return atqa
}

func (n *nfcA) Sak() byte {
	_, sak := n.tag.kind.anticollision()
	return sak
}

type mifareClassic struct {
	*baseTech
}

func (m *mifareClassic) ReadBlock(block int) ([]byte, error) {
	if block < 0 || block > 0xFF {
		return nil, fmt.Errorf("block %d out of range", block)
	}
	if err := m.check(); err != nil {
		return nil, err
	}
	data, err := m.tag.command("read block", readBinaryAPDU(byte(block), 16))
	if err != nil {
		return nil, err
	}
	if len(data) != 16 {
		return nil, fmt.Errorf("read block %d: got %d bytes", block, len(data))
	}
	return data, nil
}

func (m *mifareClassic) WriteBlock(block int, data []byte) error {
	if block < 0 || block > 0xFF {
		return fmt.Errorf("block %d out of range", block)
	}
	if len(data) != 16 {
		return fmt.Errorf("block data must be 16 bytes, got %d", len(data))
	}
	if err := m.check(); err != nil {
		return err
	}
	_, err := m.tag.command("write block", updateBinaryAPDU(byte(block), data))
	return err
}

func (m *mifareClassic) AuthenticateSectorWithKeyA(sector int, key []byte) (bool, error) {
	return m.authenticate(sector, key, core.MifareKeyA)
}

func (m *mifareClassic) AuthenticateSectorWithKeyB(sector int, key []byte) (bool, error) {
	return m.authenticate(sector, key, core.MifareKeyB)
}

// authenticate loads key into the reader and authenticates the sector
// trailer with it. A 63 00 status is a rejected key.
func (m *mifareClassic) authenticate(sector int, key []byte, keyType int) (bool, error) {
	if sector < 0 || sector > 39 {
		return false, fmt.Errorf("sector %d out of range", sector)
	}
	if len(key) != 6 {
		return false, fmt.Errorf("key must be 6 bytes, got %d", len(key))
	}
	if err := m.check(); err != nil {
		return false, err
	}
	if _, err := m.tag.command("load key", loadKeyAPDU(volatileKeySlot, key)); err != nil {
		return false, err
	}
	raw, err := m.tag.adapter.transmit(m.tag, authAPDU(sectorTrailer(sector), byte(keyType), volatileKeySlot))
	if err != nil {
		return false, fmt.Errorf("authenticate sector %d: %w", sector, err)
	}
	resp, err := parseResponse(raw)
	if err != nil {
		return false, fmt.Errorf("authenticate sector %d: %w", sector, err)
	}
	switch {
	case resp.ok():
		return true, nil
	case resp.sw1 == sw1Rejected:
		return false, nil
	default:
		return false, fmt.Errorf("authenticate sector %d: %w", sector, resp.err())
	}
}

func (m *mifareClassic) BlockToSector(block int) int {
	if block < 128 {
		return block / 4
	}
	return 32 + (block-128)/16
}

// sectorTrailer returns the trailer block of a 1K/4K sector.
func sectorTrailer(sector int) byte {
	if sector < 32 {
		return byte(sector*4 + 3)
	}
	return byte(128 + (sector-32)*16 + 15)
}

type mifareUltralight struct {
	*baseTech
}

// ReadPages reads 16 bytes; PC/SC READ BINARY on an Ultralight returns
// four pages.
func (u *mifareUltralight) ReadPages(page int) ([]byte, error) {
	if page < 0 || page > 0xFF {
		return nil, fmt.Errorf("page %d out of range", page)
	}
	if err := u.check(); err != nil {
		return nil, err
	}
	data, err := u.tag.command("read pages", readBinaryAPDU(byte(page), 16))
	if err != nil {
		return nil, err
	}
	if len(data) != 16 {
		return nil, fmt.Errorf("read pages from %d: got %d bytes", page, len(data))
	}
	return data, nil
}

func (u *mifareUltralight) WritePage(page int, data []byte) error {
	if page < 0 || page > 0xFF {
		return fmt.Errorf("page %d out of range", page)
	}
	if len(data) != 4 {
		return fmt.Errorf("page data must be 4 bytes, got %d", len(data))
	}
	if err := u.check(); err != nil {
		return err
	}
	_, err := u.tag.command("write page", updateBinaryAPDU(byte(page), data))
	return err
}
