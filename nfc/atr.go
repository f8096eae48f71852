package nfc

import (
	"bytes"
	"encoding/hex"
	"strings"
)

// PC/SC part 3 storage-card ATRs for technologies without a native ATR.
// Layout: 3B 8F 80 01 80 4F 0C <RID A0 00 00 03 06> <standard> <card name> 00 00 00 00 <TCK>.
var (
	atrMifareClassic    = mustHex("3B8F8001804F0CA000000306030001000000006A")
	atrMifareUltralight = mustHex("3B8F8001804F0CA0000003060300030000000068")
)

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// MifareClassicATR returns the virtual ATR reported for MIFARE Classic tags.
func MifareClassicATR() []byte { return bytes.Clone(atrMifareClassic) }

// MifareUltralightATR returns the virtual ATR reported for MIFARE Ultralight tags.
func MifareUltralightATR() []byte { return bytes.Clone(atrMifareUltralight) }

// SynthesizeATR returns the answer-to-reset for a bound technology. IsoDep
// yields its hi-layer response, falling back to the historical bytes.
func SynthesizeATR(tech TagTechnology) []byte {
	switch t := tech.(type) {
	case IsoDep:
		if hl := t.HiLayerResponse(); hl != nil {
			return bytes.Clone(hl)
		}
		return bytes.Clone(t.HistoricalBytes())
	case MifareClassic:
		return MifareClassicATR()
	case MifareUltralight:
		return MifareUltralightATR()
	}
	return nil
}

// BytesToHex converts a byte slice to an uppercase hex string.
func BytesToHex(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

// HexToBytes decodes a hex string, ignoring spaces and colons.
func HexToBytes(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ":", "").Replace(s)
	return hex.DecodeString(s)
}
