package nfc

import (
	"bytes"
	"fmt"
	"sync"
)

// MockTag is a test implementation of Tag.
//
// Example:
//
//	iso := NewMockIsoDep(nil, []byte{0x80, 0x31})
//	tag := NewMockTag([]byte{0x04, 0xA1, 0xB2, 0xC3}, iso)
//	reader.OnTagDiscovered(tag)
type MockTag struct {
	UID   []byte
	Techs []string
	// Technologies maps identifiers to the objects returned by Technology.
	Technologies map[string]TagTechnology
	// TechnologyError, if set, is returned by Technology.
	TechnologyError error
}

// NewMockTag builds a tag advertising one identifier per technology, in
// the given order.
func NewMockTag(uid []byte, techs ...TagTechnology) *MockTag {
	t := &MockTag{UID: uid, Technologies: make(map[string]TagTechnology)}
	for _, tech := range techs {
		id := mockTechID(tech)
		t.Techs = append(t.Techs, id)
		t.Technologies[id] = tech
	}
	return t
}

func mockTechID(tech TagTechnology) string {
	switch tech.(type) {
	case *MockIsoDep:
		return TechIsoDep
	case *MockMifareClassic:
		return TechMifareClassic
	case *MockMifareUltralight:
		return TechMifareUltralight
	case *MockNfcA:
		return TechNfcA
	case *MockNfcB:
		return TechNfcB
	}
	return fmt.Sprintf("%T", tech)
}

func (t *MockTag) ID() []byte         { return bytes.Clone(t.UID) }
func (t *MockTag) TechList() []string { return append([]string(nil), t.Techs...) }

func (t *MockTag) Technology(tech string) (TagTechnology, error) {
	if t.TechnologyError != nil {
		return nil, t.TechnologyError
	}
	if obj, ok := t.Technologies[tech]; ok {
		return obj, nil
	}
	return nil, fmt.Errorf("technology %s not advertised", tech)
}

// MockTech implements TagTechnology and records calls.
type MockTech struct {
	mu sync.Mutex

	Connected bool
	// Present is reported by IsConnected together with Connected. A tag
	// that left the field has Present false.
	Present bool

	ConnectError   error
	TransceiveFunc func([]byte) ([]byte, error)
	// TransceiveResponse is the default response for Transceive calls
	TransceiveResponse []byte
	TransceiveError    error

	ConnectCalls    int
	CloseCalls      int
	TransceiveCalls int
	Sent            [][]byte
}

func (m *MockTech) reset() {
	m.Present = true
	m.TransceiveResponse = []byte{0x90, 0x00}
}

func (m *MockTech) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ConnectCalls++
	if m.ConnectError != nil {
		return m.ConnectError
	}
	if !m.Present {
		return fmt.Errorf("tag lost")
	}
	m.Connected = true
	return nil
}

func (m *MockTech) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCalls++
	m.Connected = false
	return nil
}

func (m *MockTech) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Connected && m.Present
}

func (m *MockTech) Transceive(data []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TransceiveCalls++
	m.Sent = append(m.Sent, bytes.Clone(data))
	if m.TransceiveFunc != nil {
		return m.TransceiveFunc(data)
	}
	if m.TransceiveError != nil {
		return nil, m.TransceiveError
	}
	return bytes.Clone(m.TransceiveResponse), nil
}

// SetPresent simulates the tag entering or leaving the field.
func (m *MockTech) SetPresent(present bool) {
	m.mu.Lock()
	m.Present = present
	m.mu.Unlock()
}

// Calls returns the connect and transceive counters.
func (m *MockTech) Calls() (connect, transceive int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ConnectCalls, m.TransceiveCalls
}

// MockIsoDep is a test IsoDep.
type MockIsoDep struct {
	MockTech
	HiLayer    []byte
	Historical []byte
}

// NewMockIsoDep creates a present, disconnected IsoDep.
func NewMockIsoDep(hiLayer, historical []byte) *MockIsoDep {
	m := &MockIsoDep{HiLayer: hiLayer, Historical: historical}
	m.reset()
	return m
}

func (m *MockIsoDep) HiLayerResponse() []byte { return m.HiLayer }
func (m *MockIsoDep) HistoricalBytes() []byte { return m.Historical }

// MockMifareClassic is a 1K MIFARE Classic held in memory.
type MockMifareClassic struct {
	MockTech
	Blocks map[int][]byte
	// AuthResult is returned by both authenticate methods.
	AuthResult bool
	AuthError  error
	ReadError  error
	// LastAuth records the most recent authentication attempt.
	LastAuth struct {
		Sector int
		Key    []byte
		KeyB   bool
	}
	AuthCalls int
	ReadCalls int
}

// NewMockMifareClassic creates a present, disconnected Classic tag.
func NewMockMifareClassic() *MockMifareClassic {
	m := &MockMifareClassic{Blocks: make(map[int][]byte), AuthResult: true}
	m.reset()
	return m
}

func (m *MockMifareClassic) ReadBlock(block int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadCalls++
	if m.ReadError != nil {
		return nil, m.ReadError
	}
	if b, ok := m.Blocks[block]; ok {
		return bytes.Clone(b), nil
	}
	return make([]byte, classicBlockSize), nil
}

func (m *MockMifareClassic) WriteBlock(block int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Blocks[block] = bytes.Clone(data)
	return nil
}

func (m *MockMifareClassic) AuthenticateSectorWithKeyA(sector int, key []byte) (bool, error) {
	return m.auth(sector, key, false)
}

func (m *MockMifareClassic) AuthenticateSectorWithKeyB(sector int, key []byte) (bool, error) {
	return m.auth(sector, key, true)
}

func (m *MockMifareClassic) auth(sector int, key []byte, keyB bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AuthCalls++
	m.LastAuth.Sector = sector
	m.LastAuth.Key = bytes.Clone(key)
	m.LastAuth.KeyB = keyB
	return m.AuthResult, m.AuthError
}

// BlockToSector follows the 1K/4K layout: 4 blocks per sector for the first
// 32 sectors, 16 blocks per sector after.
func (m *MockMifareClassic) BlockToSector(block int) int {
	if block < 128 {
		return block / 4
	}
	return 32 + (block-128)/16
}

// MockMifareUltralight is an Ultralight held in memory as 4-byte pages.
type MockMifareUltralight struct {
	MockTech
	Pages     map[int][]byte
	ReadCalls int
}

// NewMockMifareUltralight creates a present, disconnected Ultralight tag.
func NewMockMifareUltralight() *MockMifareUltralight {
	m := &MockMifareUltralight{Pages: make(map[int][]byte)}
	m.reset()
	return m
}

func (m *MockMifareUltralight) ReadPages(page int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadCalls++
	out := make([]byte, 0, 16)
	for i := 0; i < 4; i++ {
		p, ok := m.Pages[page+i]
		if !ok {
			p = make([]byte, ultralightPageLen)
		}
		out = append(out, p...)
	}
	return out, nil
}

func (m *MockMifareUltralight) WritePage(page int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Pages[page] = bytes.Clone(data)
	return nil
}

// MockNfcA exposes fixed ATQA and SAK values.
type MockNfcA struct {
	MockTech
	ATQA []byte
	SAK  byte
}

func NewMockNfcA(atqa []byte, sak byte) *MockNfcA {
	m := &MockNfcA{ATQA: atqa, SAK: sak}
	m.reset()
	return m
}

func (m *MockNfcA) Atqa() []byte { return m.ATQA }
func (m *MockNfcA) Sak() byte    { return m.SAK }

// MockNfcB exposes fixed ATQB parameters.
type MockNfcB struct {
	MockTech
	AppData  []byte
	ProtInfo []byte
}

func NewMockNfcB(appData, protInfo []byte) *MockNfcB {
	m := &MockNfcB{AppData: appData, ProtInfo: protInfo}
	m.reset()
	return m
}

func (m *MockNfcB) ApplicationData() []byte { return m.AppData }
func (m *MockNfcB) ProtocolInfo() []byte    { return m.ProtInfo }
