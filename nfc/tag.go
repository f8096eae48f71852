package nfc

import "time"

// Tag is an OS handle for a contactless target in the field.
//
// A Tag has no explicit close; it becomes invalid once the target leaves the
// field, after which its technologies fail or report disconnected.
type Tag interface {
	ID() []byte
	// TechList returns the technology identifiers the tag advertises,
	// e.g. TechIsoDep or TechNfcA.
	TechList() []string
	// Technology returns the technology object for an advertised identifier.
	Technology(tech string) (TagTechnology, error)
}

// TagTechnology is the transport shared by every technology binding.
type TagTechnology interface {
	Connect() error
	Close() error
	// IsConnected reports whether the technology is connected and the
	// target still answers. Backends may perform a presence check.
	IsConnected() bool
	Transceive(data []byte) ([]byte, error)
}

// IsoDep is an ISO 14443-4 transceiver.
type IsoDep interface {
	TagTechnology
	// HiLayerResponse returns the ATTRIB response of a type B target, or nil.
	HiLayerResponse() []byte
	// HistoricalBytes returns the ATS historical bytes of a type A target, or nil.
	HistoricalBytes() []byte
}

// MifareClassic exposes block-level MIFARE Classic access.
type MifareClassic interface {
	TagTechnology
	ReadBlock(block int) ([]byte, error)
	WriteBlock(block int, data []byte) error
	AuthenticateSectorWithKeyA(sector int, key []byte) (bool, error)
	AuthenticateSectorWithKeyB(sector int, key []byte) (bool, error)
	BlockToSector(block int) int
}

// MifareUltralight exposes page-level MIFARE Ultralight access.
type MifareUltralight interface {
	TagTechnology
	// ReadPages reads four consecutive pages (16 bytes) starting at page.
	ReadPages(page int) ([]byte, error)
	WritePage(page int, data []byte) error
}

// NfcA exposes ISO 14443-3A anticollision parameters.
type NfcA interface {
	TagTechnology
	Atqa() []byte
	Sak() byte
}

// NfcB exposes ISO 14443-3B ATQB parameters.
type NfcB interface {
	TagTechnology
	ApplicationData() []byte
	ProtocolInfo() []byte
}

// ReaderCallback receives tags discovered while reader mode is enabled.
// It is invoked on the backend's discovery goroutine.
type ReaderCallback interface {
	OnTagDiscovered(tag Tag)
}

// ReaderOptions carries the optional reader-mode extras.
type ReaderOptions struct {
	// PresenceCheckDelay overrides the OS presence-check interval when non-zero.
	PresenceCheckDelay time.Duration
}

// Adapter is the OS reader-mode facility.
type Adapter interface {
	EnableReaderMode(cb ReaderCallback, flags ReaderFlag, opts ReaderOptions) error
	DisableReaderMode() error
}

// TagRemovalNotifier is implemented by adapters that can report a tag
// leaving the field. onRemoved fires once the tag has been absent for the
// debounce window.
type TagRemovalNotifier interface {
	Ignore(tag Tag, debounce time.Duration, onRemoved func()) error
}
