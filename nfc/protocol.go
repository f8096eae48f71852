package nfc

// Protocol names a reader protocol the host can activate.
type Protocol string

// Supported reader protocols, in classification priority order.
const (
	ProtocolISO14443_4       Protocol = "ISO_14443_4"
	ProtocolMifareClassic    Protocol = "MIFARE_CLASSIC"
	ProtocolMifareUltralight Protocol = "MIFARE_ULTRALIGHT"
)

// Technology identifiers a Tag may advertise.
const (
	TechIsoDep           = "android.nfc.tech.IsoDep"
	TechMifareClassic    = "android.nfc.tech.MifareClassic"
	TechMifareUltralight = "android.nfc.tech.MifareUltralight"
	TechNfcA             = "android.nfc.tech.NfcA"
	TechNfcB             = "android.nfc.tech.NfcB"
)

// ReaderFlag is the reader-mode flag bitmask handed to Adapter.EnableReaderMode.
type ReaderFlag int

const (
	FlagReaderNfcA             ReaderFlag = 0x1
	FlagReaderNfcB             ReaderFlag = 0x2
	FlagReaderNfcF             ReaderFlag = 0x4
	FlagReaderNfcV             ReaderFlag = 0x8
	FlagReaderNfcBarcode       ReaderFlag = 0x10
	FlagReaderSkipNDEFCheck    ReaderFlag = 0x80
	FlagReaderNoPlatformSounds ReaderFlag = 0x100
)

// Has reports whether every bit of f2 is set in f.
func (f ReaderFlag) Has(f2 ReaderFlag) bool {
	return f&f2 == f2
}

type protocolInfo struct {
	tech  string
	flags ReaderFlag
}

// protocolTable is ordered by classification priority.
var protocolTable = []struct {
	protocol Protocol
	protocolInfo
}{
	{ProtocolISO14443_4, protocolInfo{TechIsoDep, FlagReaderNfcA | FlagReaderNfcB}},
	{ProtocolMifareClassic, protocolInfo{TechMifareClassic, FlagReaderNfcA}},
	{ProtocolMifareUltralight, protocolInfo{TechMifareUltralight, FlagReaderNfcA}},
}

func lookupProtocol(p Protocol) (protocolInfo, bool) {
	for _, e := range protocolTable {
		if e.protocol == p {
			return e.protocolInfo, true
		}
	}
	return protocolInfo{}, false
}

// SupportedProtocols returns every protocol the reader understands, highest
// priority first.
func SupportedProtocols() []Protocol {
	out := make([]Protocol, len(protocolTable))
	for i, e := range protocolTable {
		out[i] = e.protocol
	}
	return out
}

// TechnologyOf returns the technology identifier bound for p.
func TechnologyOf(p Protocol) (string, bool) {
	info, ok := lookupProtocol(p)
	return info.tech, ok
}

// ProtocolOf maps a technology identifier back to its protocol.
func ProtocolOf(tech string) (Protocol, bool) {
	for _, e := range protocolTable {
		if e.tech == tech {
			return e.protocol, true
		}
	}
	return "", false
}
