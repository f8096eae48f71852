package nfc

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUID = []byte{0x04, 0xA1, 0xB2, 0xC3, 0xD4, 0xE5, 0xF6}

func testConfig(host Host, opts ...func(*Config)) Config {
	cfg := DefaultConfig(NewHostRef(host))
	cfg.Logger = log.New(io.Discard, "", 0)
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

func newTestReader(t *testing.T, host Host, opts ...func(*Config)) *Reader {
	t.Helper()
	plugin, err := NewPlugin(testConfig(host, opts...))
	require.NoError(t, err)
	return plugin.Reader()
}

// startedReader returns a reader with every protocol activated and detection running.
func startedReader(t *testing.T, opts ...func(*Config)) (*Reader, *MockAdapter) {
	t.Helper()
	adapter := NewMockAdapter()
	r := newTestReader(t, adapter.Host(), opts...)
	for _, p := range SupportedProtocols() {
		require.NoError(t, r.ActivateProtocol(p))
	}
	require.NoError(t, r.OnStartDetection())
	return r, adapter
}

func TestReader_Identity(t *testing.T) {
	r, _ := startedReader(t)
	assert.Equal(t, "AndroidNfcReader", r.Name())
	assert.True(t, r.IsContactless())
	assert.True(t, r.IsProtocolSupported(ProtocolMifareClassic))
	assert.False(t, r.IsProtocolSupported("FELICA"))
}

func TestTransmitBeforeOpen(t *testing.T) {
	r, adapter := startedReader(t)
	iso := NewMockIsoDep(nil, []byte{0x80})
	require.True(t, adapter.Discover(NewMockTag(testUID, iso)))

	_, err := r.TransmitAPDU([]byte{0x00, 0xA4, 0x04, 0x00})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidState))
	_, transceives := iso.Calls()
	assert.Zero(t, transceives, "no I/O may happen on a closed channel")
}

func TestTransmitWithoutTag(t *testing.T) {
	r, _ := startedReader(t)
	_, err := r.TransmitAPDU([]byte{0x00})
	assert.True(t, IsInvalidStateError(err))
	assert.True(t, IsInvalidStateError(r.OpenPhysicalChannel()))
}

func TestOpenTransmitClose(t *testing.T) {
	r, adapter := startedReader(t)
	iso := NewMockIsoDep(nil, []byte{0x80})
	iso.TransceiveResponse = []byte{0x6F, 0x00, 0x90, 0x00}
	adapter.Discover(NewMockTag(testUID, iso))

	require.NoError(t, r.OpenPhysicalChannel())
	assert.True(t, r.IsPhysicalChannelOpen())

	resp, err := r.TransmitAPDU([]byte{0x00, 0xA4, 0x04, 0x00})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x6F, 0x00, 0x90, 0x00}, resp)

	r.ClosePhysicalChannel()
	assert.False(t, r.IsPhysicalChannelOpen())

	_, err = r.TransmitAPDU([]byte{0x00, 0xB0, 0x00, 0x00})
	assert.True(t, IsInvalidStateError(err))
	_, transceives := iso.Calls()
	assert.Equal(t, 1, transceives)
}

func TestOpenWhenAlreadyConnected(t *testing.T) {
	r, adapter := startedReader(t)
	iso := NewMockIsoDep(nil, []byte{0x80})
	adapter.Discover(NewMockTag(testUID, iso))

	require.NoError(t, r.OpenPhysicalChannel())
	r.ClosePhysicalChannel()
	require.NoError(t, r.OpenPhysicalChannel())

	connects, _ := iso.Calls()
	assert.Equal(t, 1, connects)
	assert.True(t, r.IsPhysicalChannelOpen())
}

func TestOpenFailureWrapsCause(t *testing.T) {
	r, adapter := startedReader(t)
	iso := NewMockIsoDep(nil, []byte{0x80})
	cause := errors.New("tag was lost")
	iso.ConnectError = cause
	adapter.Discover(NewMockTag(testUID, iso))

	err := r.OpenPhysicalChannel()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrChannelIO))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, r.IsPhysicalChannelOpen())
}

func TestTransmitShortResponse(t *testing.T) {
	r, adapter := startedReader(t)
	iso := NewMockIsoDep(nil, []byte{0x80})
	iso.TransceiveResponse = []byte{0x90}
	adapter.Discover(NewMockTag(testUID, iso))
	require.NoError(t, r.OpenPhysicalChannel())

	_, err := r.TransmitAPDU([]byte{0x00, 0x84, 0x00, 0x00, 0x08})
	assert.True(t, IsChannelIOError(err))
}

func TestTransmitTransceiveError(t *testing.T) {
	r, adapter := startedReader(t)
	iso := NewMockIsoDep(nil, []byte{0x80})
	iso.TransceiveError = errors.New("transceive failed")
	adapter.Discover(NewMockTag(testUID, iso))
	require.NoError(t, r.OpenPhysicalChannel())

	_, err := r.TransmitAPDU([]byte{0x00, 0x84, 0x00, 0x00, 0x08})
	assert.True(t, errors.Is(err, ErrChannelIO))
	assert.ErrorIs(t, err, iso.TransceiveError)
}

func TestDiscoveryRebindsBeforeCallback(t *testing.T) {
	r, adapter := startedReader(t)
	first := NewMockMifareClassic()
	adapter.Discover(NewMockTag(testUID, first))
	require.NoError(t, r.OpenPhysicalChannel())

	var (
		inserted   int
		openAtCall bool
		atrAtCall  string
	)
	r.SetCallback(CardInsertionFunc(func() {
		inserted++
		openAtCall = r.IsPhysicalChannelOpen()
		atrAtCall = r.PowerOnData()
	}))

	second := NewMockMifareUltralight()
	adapter.Discover(NewMockTag([]byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66}, second))

	assert.Equal(t, 1, inserted)
	assert.False(t, openAtCall)
	assert.Equal(t, "3B8F8001804F0CA0000003060300030000000068", atrAtCall)
	assert.True(t, r.IsCurrentProtocol(ProtocolMifareUltralight))
	assert.False(t, r.IsCurrentProtocol(ProtocolMifareClassic))
	assert.Equal(t, 1, first.CloseCalls, "previous technology is disconnected on rebind")
}

func TestUnsupportedTagResetsState(t *testing.T) {
	adapter := NewMockAdapter()
	r := newTestReader(t, adapter.Host())
	require.NoError(t, r.ActivateProtocol(ProtocolISO14443_4))
	require.NoError(t, r.OnStartDetection())

	inserted := 0
	r.SetCallback(CardInsertionFunc(func() { inserted++ }))

	adapter.Discover(NewMockTag(testUID, NewMockIsoDep(nil, []byte{0x80})))
	require.Equal(t, 1, inserted)
	require.NoError(t, r.OpenPhysicalChannel())

	adapter.Discover(NewMockTag(testUID, NewMockMifareClassic(), NewMockNfcA([]byte{0x00, 0x04}, 0x08)))

	assert.Equal(t, 1, inserted, "no insertion event for an unsupported tag")
	assert.Empty(t, r.PowerOnData())
	assert.Empty(t, r.UID())
	assert.False(t, r.IsCurrentProtocol(ProtocolISO14443_4))
	assert.False(t, r.IsPhysicalChannelOpen())
	_, err := r.TransmitAPDU([]byte{0x00})
	assert.True(t, IsInvalidStateError(err))
}

func TestPowerOnData(t *testing.T) {
	tests := []struct {
		name string
		tech TagTechnology
		want string
	}{
		{"classic", NewMockMifareClassic(), "3B8F8001804F0CA000000306030001000000006A"},
		{"ultralight", NewMockMifareUltralight(), "3B8F8001804F0CA0000003060300030000000068"},
		{"isodep hi-layer", NewMockIsoDep([]byte{0x00, 0x11}, []byte{0x80, 0x31}), "0011"},
		{"isodep historical", NewMockIsoDep(nil, []byte{0x80, 0x31}), "8031"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, adapter := startedReader(t)
			adapter.Discover(NewMockTag(testUID, tt.tech))
			assert.Equal(t, tt.want, r.PowerOnData())
		})
	}
}

func TestTechnicalData(t *testing.T) {
	t.Run("type A", func(t *testing.T) {
		r, adapter := startedReader(t)
		adapter.Discover(NewMockTag(testUID, NewMockNfcA([]byte{0x00, 0x44}, 0x00), NewMockMifareUltralight()))

		var got map[string]string
		require.NoError(t, json.Unmarshal([]byte(r.TechnicalData()), &got))
		assert.Equal(t, map[string]string{
			"type": "A",
			"uid":  "04A1B2C3D4E5F6",
			"atqa": "0044",
			"sak":  "00",
		}, got)
	})

	t.Run("type B", func(t *testing.T) {
		r, adapter := startedReader(t)
		adapter.Discover(NewMockTag([]byte{0x01, 0x02, 0x03, 0x04},
			NewMockNfcB([]byte{0xAA, 0xBB, 0xCC, 0xDD}, []byte{0x80, 0x71, 0x71}),
			NewMockIsoDep([]byte{0x00}, nil)))

		var got map[string]string
		require.NoError(t, json.Unmarshal([]byte(r.TechnicalData()), &got))
		assert.Equal(t, "B", got["type"])
		assert.Equal(t, "01020304", got["uid"])
		assert.Equal(t, "AABBCCDD", got["applicationData"])
		assert.Equal(t, "807171", got["protocolInfo"])
	})

	t.Run("no anticollision data", func(t *testing.T) {
		r, adapter := startedReader(t)
		adapter.Discover(NewMockTag(testUID, NewMockMifareClassic()))
		assert.Empty(t, r.TechnicalData())
	})
}

func TestCheckCardPresence(t *testing.T) {
	r, adapter := startedReader(t)
	assert.False(t, r.CheckCardPresence())

	iso := NewMockIsoDep(nil, []byte{0x80})
	adapter.Discover(NewMockTag(testUID, iso))
	require.NoError(t, r.OpenPhysicalChannel())
	assert.True(t, r.CheckCardPresence())

	iso.SetPresent(false)
	assert.False(t, r.CheckCardPresence())
}

type recordingInterpreter struct {
	processor CommandProcessor
	seen      [][]byte
}

func (i *recordingInterpreter) SetCommandProcessor(p CommandProcessor) { i.processor = p }

// ProcessAPDU maps FF B0 00 <block> <len> onto ReadBlock.
func (i *recordingInterpreter) ProcessAPDU(apdu []byte) ([]byte, error) {
	i.seen = append(i.seen, apdu)
	data, err := i.processor.ReadBlock(int(apdu[3]), int(apdu[4]))
	if err != nil {
		return nil, err
	}
	return append(data, 0x90, 0x00), nil
}

type interpreterFactory struct {
	interp *recordingInterpreter
	err    error
}

func (f interpreterFactory) CreateAPDUInterpreter() (APDUInterpreter, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.interp, nil
}

func TestTransmitThroughInterpreter(t *testing.T) {
	interp := &recordingInterpreter{}
	r, adapter := startedReader(t, func(c *Config) {
		c.APDUInterpreterFactory = interpreterFactory{interp: interp}
	})
	require.NotNil(t, interp.processor)

	ul := NewMockMifareUltralight()
	ul.Pages[4] = []byte{0x01, 0x02, 0x03, 0x04}
	adapter.Discover(NewMockTag(testUID, ul))
	require.NoError(t, r.OpenPhysicalChannel())

	resp, err := r.TransmitAPDU([]byte{0xFF, 0xB0, 0x00, 0x04, 0x04})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04, 0x90, 0x00}, resp)
	assert.Len(t, interp.seen, 1)
	_, transceives := ul.Calls()
	assert.Zero(t, transceives, "raw transceive is bypassed")
}

func TestTransmitInterpreterErrorIsChannelIO(t *testing.T) {
	interp := &recordingInterpreter{}
	r, adapter := startedReader(t, func(c *Config) {
		c.APDUInterpreterFactory = interpreterFactory{interp: interp}
	})
	adapter.Discover(NewMockTag(testUID, NewMockMifareUltralight()))
	require.NoError(t, r.OpenPhysicalChannel())

	_, err := r.TransmitAPDU([]byte{0xFF, 0xB0, 0x00, 0x04, 0x20})
	assert.True(t, IsChannelIOError(err))
	assert.True(t, errors.Is(err, ErrSizeConstraint))
}
