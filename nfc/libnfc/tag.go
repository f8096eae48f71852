package libnfc

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/clausecker/freefare"
	"github.com/clausecker/nfc/v2"

	"github.com/dotside-studios/davi-nfc-reader/internal/syncutil"
	core "github.com/dotside-studios/davi-nfc-reader/nfc"
)

var (
	errTagLost      = errors.New("tag was lost")
	errNotConnected = errors.New("technology is not connected")
)

// tag is a target found by the reader-mode loop.
type tag struct {
	adapter *Adapter
	mod     nfc.Modulation
	target  nfc.Target
	uid     []byte
	techs   []string
	lost    atomic.Bool

	mu    sync.Mutex
	cache map[string]core.TagTechnology
}

func newTag(a *Adapter, mod nfc.Modulation, target nfc.Target) *tag {
	t := &tag{adapter: a, mod: mod, target: target, cache: make(map[string]core.TagTechnology)}
	switch tt := target.(type) {
	case *nfc.ISO14443aTarget:
		if tt.UIDLen <= 0 || tt.UIDLen > len(tt.UID) {
			return nil
		}
		t.uid = slices.Clone(tt.UID[:tt.UIDLen])
		t.techs = techsForTypeA(tt.Sak, t.uid)
	case *nfc.ISO14443bTarget:
		if tt.Pupi == [4]byte{} {
			return nil
		}
		t.uid = slices.Clone(tt.Pupi[:])
		t.techs = techsForTypeB()
	default:
		return nil
	}
	return t
}

func (t *tag) ID() []byte         { return slices.Clone(t.uid) }
func (t *tag) TechList() []string { return slices.Clone(t.techs) }

func (t *tag) uidHex() string { return strings.ToUpper(hex.EncodeToString(t.uid)) }

// selectData is the libnfc init data that reselects this target.
func (t *tag) selectData() []byte {
	if t.mod.Type == nfc.ISO14443a {
		return t.uid
	}
	return nil
}

func (t *tag) Technology(id string) (core.TagTechnology, error) {
	if !slices.Contains(t.techs, id) {
		return nil, fmt.Errorf("technology %s not advertised by tag %s", id, t.uidHex())
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
		tech = &isoDep{baseTech: base}
	case core.TechNfcA:
		tech = &nfcA{baseTech: base, target: t.target.(*nfc.ISO14443aTarget)}
	case core.TechNfcB:
		tech = &nfcB{baseTech: base, target: t.target.(*nfc.ISO14443bTarget)}
	case core.TechMifareClassic:
		tech = &mifareClassic{freefareTech{baseTech: base}}
	case core.TechMifareUltralight:
		tech = &mifareUltralight{freefareTech{baseTech: base}}
	default:
		return nil, fmt.Errorf("technology %s is not implemented", id)
	}
	t.cache[id] = tech
	return tech, nil
}

// baseTech talks to the target through the adapter's initiator.
type baseTech struct {
	tag       *tag
	mu        syncutil.Mutex
	connected bool
}

func (b *baseTech) Connect() error {
	if b.tag.lost.Load() {
		return errTagLost
	}
	if err := b.tag.adapter.reselect(b.tag); err != nil {
		return err
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
	return b.isConnected() && b.tag.adapter.targetPresent(b.tag)
}

func (b *baseTech) Transceive(data []byte) ([]byte, error) {
	if !b.isConnected() {
		return nil, errNotConnected
	}
	if b.tag.lost.Load() {
		return nil, errTagLost
	}
	return b.tag.adapter.transceive(data)
}

type isoDep struct {
	*baseTech
}

// HiLayerResponse is not reported by libnfc for type B targets.
func (d *isoDep) HiLayerResponse() []byte { return nil }

func (d *isoDep) HistoricalBytes() []byte {
	a, ok := d.tag.target.(*nfc.ISO14443aTarget)
	if !ok || a.AtsLen <= 0 || a.AtsLen > len(a.Ats) {
		return nil
	}
	// libnfc stores the ATS without its TL byte.
	return historicalBytes(append([]byte{byte(a.AtsLen + 1)}, a.Ats[:a.AtsLen]...))
}

type nfcA struct {
	*baseTech
	target *nfc.ISO14443aTarget
}

func (n *nfcA) Atqa() []byte { return slices.Clone(n.target.Atqa[:]) }
func (n *nfcA) Sak() byte    { return n.target.Sak }

type nfcB struct {
	*baseTech
	target *nfc.ISO14443bTarget
}

func (n *nfcB) ApplicationData() []byte { return slices.Clone(n.target.ApplicationData[:]) }
func (n *nfcB) ProtocolInfo() []byte    { return slices.Clone(n.target.ProtocolInfo[:]) }

// freefareTech routes block access through libfreefare.
type freefareTech struct {
	*baseTech
	ff freefare.Tag
}

func (f *freefareTech) Connect() error {
	if f.tag.lost.Load() {
		return errTagLost
	}
	ff, err := f.tag.adapter.connectFreefare(f.tag)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.ff = ff
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *freefareTech) Close() error {
	f.mu.Lock()
	ff := f.ff
	f.ff = nil
	f.connected = false
	f.mu.Unlock()
	if ff == nil {
		return nil
	}
	return f.tag.adapter.disconnectFreefare(f.tag, ff)
}

func (f *freefareTech) handle() (freefare.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected || f.ff == nil {
		return nil, errNotConnected
	}
	if f.tag.lost.Load() {
		return nil, errTagLost
	}
	return f.ff, nil
}

type mifareClassic struct {
	freefareTech
}

func (m *mifareClassic) classic() (ct freefare.ClassicTag, err error) {
	ff, err := m.handle()
	if err != nil {
		return ct, err
	}
	ct, ok := ff.(freefare.ClassicTag)
	if !ok {
		return ct, fmt.Errorf("tag %s is not a MIFARE Classic", m.tag.uidHex())
	}
	return ct, nil
}

func (m *mifareClassic) ReadBlock(block int) ([]byte, error) {
	if block < 0 || block > 0xFF {
		return nil, fmt.Errorf("block %d out of range", block)
	}
	ct, err := m.classic()
	if err != nil {
		return nil, err
	}
	var data [16]byte
	err = m.tag.adapter.withDevice(func() error {
		var rerr error
		data, rerr = ct.ReadBlock(byte(block))
		return rerr
	})
	if err != nil {
		return nil, fmt.Errorf("read block %d: %w", block, err)
	}
	return data[:], nil
}

func (m *mifareClassic) WriteBlock(block int, data []byte) error {
	if block < 0 || block > 0xFF {
		return fmt.Errorf("block %d out of range", block)
	}
	if len(data) != 16 {
		return fmt.Errorf("block data must be 16 bytes, got %d", len(data))
	}
	ct, err := m.classic()
	if err != nil {
		return err
	}
	var buf [16]byte
	copy(buf[:], data)
	if err := m.tag.adapter.withDevice(func() error { return ct.WriteBlock(byte(block), buf) }); err != nil {
		return fmt.Errorf("write block %d: %w", block, err)
	}
	return nil
}

func (m *mifareClassic) AuthenticateSectorWithKeyA(sector int, key []byte) (bool, error) {
	return m.authenticate(sector, key, int(freefare.KeyA))
}

func (m *mifareClassic) AuthenticateSectorWithKeyB(sector int, key []byte) (bool, error) {
	return m.authenticate(sector, key, int(freefare.KeyB))
}

// authenticate reports a rejected key as false. An error means the tag
// stopped answering.
func (m *mifareClassic) authenticate(sector int, key []byte, keyType int) (bool, error) {
	if sector < 0 || sector > 39 {
		return false, fmt.Errorf("sector %d out of range", sector)
	}
	if len(key) != 6 {
		return false, fmt.Errorf("key must be 6 bytes, got %d", len(key))
	}
	ct, err := m.classic()
	if err != nil {
		return false, err
	}
	var k [6]byte
	copy(k[:], key)
	trailer := freefare.ClassicSectorLastBlock(byte(sector))
	authErr := m.tag.adapter.withDevice(func() error { return ct.Authenticate(trailer, k, keyType) })
	if authErr == nil {
		return true, nil
	}
	if !m.tag.adapter.targetPresent(m.tag) {
		return false, fmt.Errorf("authenticate sector %d: %w", sector, errTagLost)
	}
	return false, nil
}

func (m *mifareClassic) BlockToSector(block int) int {
	if block < 128 {
		return block / 4
	}
	return 32 + (block-128)/16
}

type mifareUltralight struct {
	freefareTech
}

func (u *mifareUltralight) ultralight() (ut freefare.UltralightTag, err error) {
	ff, err := u.handle()
	if err != nil {
		return ut, err
	}
	ut, ok := ff.(freefare.UltralightTag)
	if !ok {
		return ut, fmt.Errorf("tag %s is not a MIFARE Ultralight", u.tag.uidHex())
	}
	return ut, nil
}

func (u *mifareUltralight) ReadPages(page int) ([]byte, error) {
	if page < 0 || page > 0xFF {
		return nil, fmt.Errorf("page %d out of range", page)
	}
	ut, err := u.ultralight()
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	err = u.tag.adapter.withDevice(func() error {
		for i := 0; i < 4; i++ {
			data, rerr := ut.ReadPage(byte(page + i))
			if rerr != nil {
				return rerr
			}
			out.Write(data[:])
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read pages from %d: %w", page, err)
	}
	return out.Bytes(), nil
}

func (u *mifareUltralight) WritePage(page int, data []byte) error {
	if page < 0 || page > 0xFF {
		return fmt.Errorf("page %d out of range", page)
	}
	if len(data) != 4 {
		return fmt.Errorf("page data must be 4 bytes, got %d", len(data))
	}
	ut, err := u.ultralight()
	if err != nil {
		return err
	}
	var buf [4]byte
	copy(buf[:], data)
	if err := u.tag.adapter.withDevice(func() error { return ut.WritePage(byte(page), buf) }); err != nil {
		return fmt.Errorf("write page %d: %w", page, err)
	}
	return nil
}
