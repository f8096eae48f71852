package nfc

import (
	"bytes"
)

const (
	// maxReadLength is what one Classic block or one Ultralight READ returns.
	maxReadLength     = 16
	classicBlockSize  = 16
	ultralightPageLen = 4
	mifareKeyLength   = 6
)

// TransmitISOAPDU sends apdu to the bound IsoDep without interpretation.
func (r *Reader) TransmitISOAPDU(apdu []byte) ([]byte, error) {
	const op = "TransmitISOAPDU"
	iso, ok := r.channel.Technology().(IsoDep)
	if !ok {
		return nil, r.wrongTechnology(op)
	}
	resp, err := iso.Transceive(apdu)
	if err != nil {
		return nil, NewChannelIOError(op, "ISO transceive failed", err)
	}
	return resp, nil
}

// UID returns the identifier of the bound tag.
func (r *Reader) UID() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return bytes.Clone(r.uid)
}

// ReadBlock reads up to 16 bytes at blockAddress. For Ultralight the address
// is a page number and four pages are read.
func (r *Reader) ReadBlock(blockAddress, length int) ([]byte, error) {
	const op = "ReadBlock"
	if length < 0 {
		return nil, Errorf(ErrCodeInvalidArgument, op, "negative length %d", length)
	}
	if length > maxReadLength {
		return nil, NewSizeConstraintError(op, length, maxReadLength)
	}

	var (
		data []byte
		err  error
	)
	switch t := r.channel.Technology().(type) {
	case MifareClassic:
		data, err = t.ReadBlock(blockAddress)
	case MifareUltralight:
		data, err = t.ReadPages(blockAddress)
	default:
		return nil, r.wrongTechnology(op)
	}
	if err != nil {
		return nil, NewChannelIOError(op, "block read failed", err)
	}
	if length < len(data) {
		data = data[:length]
	}
	return bytes.Clone(data), nil
}

// WriteBlock writes a 16-byte Classic block or a 4-byte Ultralight page.
func (r *Reader) WriteBlock(blockAddress int, data []byte) error {
	const op = "WriteBlock"
	var err error
	switch t := r.channel.Technology().(type) {
	case MifareClassic:
		if len(data) != classicBlockSize {
			return NewSizeConstraintError(op, len(data), classicBlockSize)
		}
		err = t.WriteBlock(blockAddress, data)
	case MifareUltralight:
		if len(data) != ultralightPageLen {
			return NewSizeConstraintError(op, len(data), ultralightPageLen)
		}
		err = t.WritePage(blockAddress, data)
	default:
		return r.wrongTechnology(op)
	}
	if err != nil {
		return NewChannelIOError(op, "block write failed", err)
	}
	return nil
}

// LoadKey stores key for the next GeneralAuthenticate. Storage type and key
// number are accepted for interface compatibility; the key is always kept
// in memory.
func (r *Reader) LoadKey(_ KeyStorageType, _ int, key []byte) error {
	if len(key) != mifareKeyLength {
		return NewSizeConstraintError("LoadKey", len(key), mifareKeyLength)
	}
	r.mu.Lock()
	r.loadedKey = bytes.Clone(key)
	r.mu.Unlock()
	return nil
}

// GeneralAuthenticate authenticates the sector holding blockAddress with the
// loaded key, or with keyNumber from the key provider when none was loaded.
// The loaded key is consumed either way.
func (r *Reader) GeneralAuthenticate(blockAddress, keyType, keyNumber int) (bool, error) {
	const op = "GeneralAuthenticate"
	classic, ok := r.channel.Technology().(MifareClassic)
	if !ok {
		return false, NewChannelIOError(op, "general authenticate is only supported for MIFARE Classic", nil)
	}

	r.mu.Lock()
	key := r.loadedKey
	r.loadedKey = nil
	r.mu.Unlock()

	if key == nil {
		if r.keyProvider == nil {
			return false, NewConfigurationError(op, "no key loaded and no key provider available", nil)
		}
		key = r.keyProvider.Key(keyNumber)
		if key == nil {
			return false, Errorf(ErrCodeConfiguration, op, "no key found for key number %d", keyNumber)
		}
	}

	sector := classic.BlockToSector(blockAddress)
	var (
		authenticated bool
		err           error
	)
	switch keyType {
	case MifareKeyA:
		authenticated, err = classic.AuthenticateSectorWithKeyA(sector, key)
	case MifareKeyB:
		authenticated, err = classic.AuthenticateSectorWithKeyB(sector, key)
	default:
		return false, Errorf(ErrCodeInvalidArgument, op, "unsupported key type 0x%02X", keyType)
	}
	if err != nil {
		return false, NewChannelIOError(op, "sector authentication failed", err)
	}
	return authenticated, nil
}

func (r *Reader) wrongTechnology(op string) error {
	tech := r.channel.Technology()
	if tech == nil {
		return NewInvalidStateError(op, "no tag bound")
	}
	return Errorf(ErrCodeUnsupportedTechnology, op, "operation not available for %T", tech)
}
