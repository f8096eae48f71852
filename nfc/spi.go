package nfc

// CardInsertionCallback is notified once a discovered tag has been bound.
type CardInsertionCallback interface {
	OnCardInserted()
}

// CardInsertionFunc adapts a function to CardInsertionCallback.
type CardInsertionFunc func()

func (f CardInsertionFunc) OnCardInserted() { f() }

// KeyStorageType tells LoadKey where the host intends the key to live.
// The reader keeps every key in volatile memory.
type KeyStorageType int

const (
	KeyStorageVolatile KeyStorageType = iota
	KeyStorageNonVolatile
)

// MIFARE key types used by GeneralAuthenticate.
const (
	MifareKeyA = 0x60
	MifareKeyB = 0x61
)

// CommandProcessor is the set of primitives an APDUInterpreter may call back
// into while translating a host APDU.
type CommandProcessor interface {
	TransmitISOAPDU(apdu []byte) ([]byte, error)
	UID() []byte
	ReadBlock(blockAddress, length int) ([]byte, error)
	WriteBlock(blockAddress int, data []byte) error
	LoadKey(storage KeyStorageType, keyNumber int, key []byte) error
	GeneralAuthenticate(blockAddress, keyType, keyNumber int) (bool, error)
}

// APDUInterpreter translates host APDUs into storage-card operations.
type APDUInterpreter interface {
	SetCommandProcessor(p CommandProcessor)
	ProcessAPDU(apdu []byte) ([]byte, error)
}

// APDUInterpreterFactory creates the interpreter for a reader.
type APDUInterpreterFactory interface {
	CreateAPDUInterpreter() (APDUInterpreter, error)
}

// KeyProvider supplies MIFARE keys by number when none was loaded.
// It returns nil when the key number is unknown.
type KeyProvider interface {
	Key(keyNumber int) []byte
}

// KeyProviderFunc adapts a function to KeyProvider.
type KeyProviderFunc func(keyNumber int) []byte

func (f KeyProviderFunc) Key(keyNumber int) []byte { return f(keyNumber) }
