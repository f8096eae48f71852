package nfc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSynthesizeATR_MifareConstants(t *testing.T) {
	classicA := SynthesizeATR(NewMockMifareClassic())
	classicB := SynthesizeATR(NewMockMifareClassic())
	assert.Equal(t, "3B8F8001804F0CA000000306030001000000006A", BytesToHex(classicA))
	assert.Equal(t, classicA, classicB)

	ul := SynthesizeATR(NewMockMifareUltralight())
	assert.Equal(t, "3B8F8001804F0CA0000003060300030000000068", BytesToHex(ul))
}

func TestSynthesizeATR_ReturnsCopy(t *testing.T) {
	atr := MifareClassicATR()
	atr[0] = 0x00
	assert.Equal(t, byte(0x3B), MifareClassicATR()[0])
}

func TestSynthesizeATR_IsoDep(t *testing.T) {
	historical := []byte{0x80, 0x31, 0x80, 0x65, 0xB0}

	assert.Equal(t, historical, SynthesizeATR(NewMockIsoDep(nil, historical)))
	assert.Equal(t, []byte{0x00, 0x78}, SynthesizeATR(NewMockIsoDep([]byte{0x00, 0x78}, historical)))
	assert.Empty(t, SynthesizeATR(NewMockIsoDep(nil, nil)))
}

// The synthesized ATRs must be recognised as PC/SC storage-card ATRs.
func TestSynthesizeATR_StorageCardLayout(t *testing.T) {
	for _, atr := range [][]byte{MifareClassicATR(), MifareUltralightATR()} {
		assert.Len(t, atr, 20)
		var tck byte
		for _, b := range atr[1:] {
			tck ^= b
		}
		assert.Zero(t, tck, "TCK must make the XOR of T0..TCK zero")
	}
}

func TestHexToBytes(t *testing.T) {
	b, err := HexToBytes("00 a4:04 00")
	assert.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0xA4, 0x04, 0x00}, b)

	_, err = HexToBytes("0G")
	assert.Error(t, err)
}
