package libnfc

import (
	"slices"

	"github.com/clausecker/nfc/v2"

	core "github.com/dotside-studios/davi-nfc-reader/nfc"
)

// SAK values of MIFARE Classic and of SmartMX parts emulating it.
var classicSAKs = []byte{0x01, 0x08, 0x09, 0x10, 0x11, 0x18, 0x28, 0x38, 0x88, 0x98, 0xB8}

const (
	sakISO14443_4   = 0x20
	nxpManufacturer = 0x04
)

// techsForTypeA derives the advertised technologies of a type A target.
func techsForTypeA(sak byte, uid []byte) []string {
	var techs []string
	if sak&sakISO14443_4 != 0 {
		techs = append(techs, core.TechIsoDep)
	}
	techs = append(techs, core.TechNfcA)
	if slices.Contains(classicSAKs, sak) {
		techs = append(techs, core.TechMifareClassic)
	}
	if sak == 0x00 && len(uid) > 0 && uid[0] == nxpManufacturer {
		techs = append(techs, core.TechMifareUltralight)
	}
	return techs
}

// techsForTypeB derives the advertised technologies of a type B target.
// Every type B target handled here speaks ISO 14443-4.
func techsForTypeB() []string {
	return []string{core.TechNfcB, core.TechIsoDep}
}

// modulationsFor maps reader-mode flags onto the libnfc modulations to poll.
func modulationsFor(flags core.ReaderFlag) []nfc.Modulation {
	var mods []nfc.Modulation
	if flags.Has(core.FlagReaderNfcA) {
		mods = append(mods, nfc.Modulation{Type: nfc.ISO14443a, BaudRate: nfc.Nbr106})
	}
	if flags.Has(core.FlagReaderNfcB) {
		mods = append(mods, nfc.Modulation{Type: nfc.ISO14443b, BaudRate: nfc.Nbr106})
	}
	return mods
}

// historicalBytes extracts T1..Tk from an ATS (TL T0 [TA] [TB] [TC] T1..Tk).
func historicalBytes(ats []byte) []byte {
	if len(ats) < 2 {
		return nil
	}
	t0 := ats[1]
	offset := 2
	for _, bit := range []byte{0x10, 0x20, 0x40} {
		if t0&bit != 0 {
			offset++
		}
	}
	if offset >= len(ats) {
		return nil
	}
	return slices.Clone(ats[offset:])
}
