package nfc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Flags(t *testing.T) {
	r := NewRegistry(FlagReaderSkipNDEFCheck)
	assert.Equal(t, FlagReaderSkipNDEFCheck, r.Flags())

	require.NoError(t, r.Activate(ProtocolMifareClassic))
	assert.Equal(t, FlagReaderSkipNDEFCheck|FlagReaderNfcA, r.Flags())

	require.NoError(t, r.Activate(ProtocolISO14443_4))
	assert.Equal(t, FlagReaderSkipNDEFCheck|FlagReaderNfcA|FlagReaderNfcB, r.Flags())

	require.NoError(t, r.Deactivate(ProtocolISO14443_4))
	assert.True(t, r.Flags().Has(FlagReaderNfcA), "NFC_A stays while MIFARE Classic is active")
	assert.False(t, r.Flags().Has(FlagReaderNfcB))

	require.NoError(t, r.Deactivate(ProtocolMifareClassic))
	assert.Equal(t, FlagReaderSkipNDEFCheck, r.Flags())
}

func TestRegistry_DeactivateKeepsSharedFamily(t *testing.T) {
	r := NewRegistry(0)
	require.NoError(t, r.Activate(ProtocolISO14443_4))
	require.NoError(t, r.Activate(ProtocolMifareUltralight))

	require.NoError(t, r.Deactivate(ProtocolMifareUltralight))
	assert.Equal(t, FlagReaderNfcA|FlagReaderNfcB, r.Flags())
	assert.Equal(t, []Protocol{ProtocolISO14443_4}, r.Activated())
}

func TestRegistry_UnknownProtocol(t *testing.T) {
	r := NewRegistry(0)
	err := r.Activate("FELICA")
	assert.True(t, errors.Is(err, ErrConfiguration))
	err = r.Deactivate("FELICA")
	assert.True(t, errors.Is(err, ErrConfiguration))
	assert.False(t, r.IsSupported("FELICA"))
	assert.Zero(t, r.Flags())
}

func TestRegistry_ActivatedOrderAndReset(t *testing.T) {
	r := NewRegistry(FlagReaderNoPlatformSounds)
	require.NoError(t, r.Activate(ProtocolMifareUltralight))
	require.NoError(t, r.Activate(ProtocolISO14443_4))

	assert.Equal(t, []Protocol{ProtocolISO14443_4, ProtocolMifareUltralight}, r.Activated())
	assert.True(t, r.IsActivated(ProtocolMifareUltralight))

	r.Reset()
	assert.Empty(t, r.Activated())
	assert.Equal(t, FlagReaderNoPlatformSounds, r.Flags())
}

func TestProtocolLookups(t *testing.T) {
	for _, p := range SupportedProtocols() {
		tech, ok := TechnologyOf(p)
		require.True(t, ok)
		back, ok := ProtocolOf(tech)
		require.True(t, ok)
		assert.Equal(t, p, back)
	}
	_, ok := ProtocolOf(TechNfcA)
	assert.False(t, ok)
}
