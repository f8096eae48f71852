package pcsc

import (
	"bytes"
	"slices"
	"strings"

	core "github.com/dotside-studios/davi-nfc-reader/nfc"
)

// cardKind is what the reader's ATR says about the card in the field.
type cardKind int

const (
	kindUnknown cardKind = iota
	kindClassic1K
	kindClassic4K
	kindClassicMini
	kindUltralight
	kindISODep
)

func (k cardKind) String() string {
	switch k {
	case kindClassic1K:
		return "MIFARE Classic 1K"
	case kindClassic4K:
		return "MIFARE Classic 4K"
	case kindClassicMini:
		return "MIFARE Mini"
	case kindUltralight:
		return "MIFARE Ultralight"
	case kindISODep:
		return "ISO 14443-4"
	default:
		return "unknown"
	}
}

// storageCardPrefix opens the historical bytes of a PC/SC part 3 storage
// card ATR: category 80, tag 4F, length 0C, RID A0 00 00 03 06.
var storageCardPrefix = []byte{0x80, 0x4F, 0x0C, 0xA0, 0x00, 0x00, 0x03, 0x06}

// Card names (two bytes following the standard byte).
var storageCardNames = map[uint16]cardKind{
	0x0001: kindClassic1K,
	0x0002: kindClassic4K,
	0x0003: kindUltralight,
	0x0026: kindClassicMini,
	0x0036: kindClassic1K,  // MIFARE Plus 2K in SL1
	0x0037: kindClassic4K,  // MIFARE Plus 4K in SL1
	0x003A: kindUltralight, // Ultralight C
}

// classifyATR maps a contactless ATR onto a card kind.
func classifyATR(atr []byte) cardKind {
	hist := atrHistoricalBytes(atr)
	if hist == nil {
		return kindUnknown
	}
	if bytes.HasPrefix(hist, storageCardPrefix) {
		// prefix, standard byte, card name
		if len(hist) < len(storageCardPrefix)+3 {
			return kindUnknown
		}
		name := uint16(hist[9])<<8 | uint16(hist[10])
		if kind, ok := storageCardNames[name]; ok {
			return kind
		}
		return kindUnknown
	}
	return kindISODep
}

// atrHistoricalBytes returns T1..TK of an ATR, or nil when the ATR is
// malformed or carries none.
func atrHistoricalBytes(atr []byte) []byte {
	if len(atr) < 2 || (atr[0] != 0x3B && atr[0] != 0x3F) {
		return nil
	}
	k := int(atr[1] & 0x0F)
	if k == 0 {
		return nil
	}
	pos := 2
	td := atr[1]
	for {
		for _, bit := range []byte{0x10, 0x20, 0x40} {
			if td&bit != 0 {
				pos++
			}
		}
		if td&0x80 == 0 {
			break
		}
		if pos >= len(atr) {
			return nil
		}
		td = atr[pos]
		pos++
	}
	if pos+k > len(atr) {
		return nil
	}
	return slices.Clone(atr[pos : pos+k])
}

// techList is the technology set a card kind advertises.
func (k cardKind) techList() []string {
	switch k {
	case kindClassic1K, kindClassic4K, kindClassicMini:
		return []string{core.TechNfcA, core.TechMifareClassic}
	case kindUltralight:
		return []string{core.TechNfcA, core.TechMifareUltralight}
	case kindISODep:
		return []string{core.TechIsoDep}
	default:
		return nil
	}
}

// anticollision returns the ATQA and SAK a storage card of this kind answers
// with. PC/SC does not report them, so they are the NXP datasheet values.
func (k cardKind) anticollision() (atqa []byte, sak byte) {
	switch k {
	case kindClassic1K:
		return []byte{0x00, 0x04}, 0x08
	case kindClassic4K:
		return []byte{0x00, 0x02}, 0x18
	case kindClassicMini:
		return []byte{0x00, 0x04}, 0x09
	case kindUltralight:
		return []byte{0x00, 0x44}, 0x00
	default:
		return nil, 0
	}
}

// Reader names that identify contactless interfaces.
var contactlessPatterns = []string{
	"ACR", "ACS", "NFC", "PICC", "CONTACTLESS", "SCL", "HID", "IDENTIV", "CCID", "DUAL",
}

// filterContactlessReaders drops SAM slots and orders readers whose names
// look contactless first.
func filterContactlessReaders(readers []string) []string {
	var likely, other []string
	for _, r := range readers {
		upper := strings.ToUpper(r)
		if strings.Contains(upper, "SAM") {
			continue
		}
		if slices.ContainsFunc(contactlessPatterns, func(p string) bool { return strings.Contains(upper, p) }) {
			likely = append(likely, r)
		} else {
			other = append(other, r)
		}
	}
	return append(likely, other...)
}
