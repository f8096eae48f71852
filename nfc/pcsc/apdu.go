package pcsc

import (
	"errors"
	"fmt"
)

// Status words.
const (
	sw1Success = 0x90
	sw2Success = 0x00
	// 63 00: the reader rejected the operation, e.g. a wrong MIFARE key.
	sw1Rejected = 0x63
)

// PC/SC part 3 pseudo-APDU header bytes.
const (
	claPCSC       = 0xFF
	insGetData    = 0xCA
	insLoadKey    = 0x82
	insAuth       = 0x86
	insReadBinary = 0xB0
	insUpdateBin  = 0xD6
	insDirect     = 0x00
)

// response is a parsed card or reader response.
type response struct {
	data []byte
	sw1  byte
	sw2  byte
}

func (r response) ok() bool { return r.sw1 == sw1Success && r.sw2 == sw2Success }

func (r response) err() error {
	if r.ok() {
		return nil
	}
	return fmt.Errorf("status %02X%02X", r.sw1, r.sw2)
}

func parseResponse(raw []byte) (response, error) {
	if len(raw) < 2 {
		return response{}, errors.New("response too short")
	}
	return response{data: raw[:len(raw)-2], sw1: raw[len(raw)-2], sw2: raw[len(raw)-1]}, nil
}

// buildAPDU assembles a short APDU. le < 0 omits Le.
func buildAPDU(cla, ins, p1, p2 byte, data []byte, le int) []byte {
	cmd := []byte{cla, ins, p1, p2}
	if len(data) > 0 {
		cmd = append(cmd, byte(len(data)))
		cmd = append(cmd, data...)
	}
	if le >= 0 {
		cmd = append(cmd, byte(le))
	}
	return cmd
}

func getUIDAPDU() []byte {
	return buildAPDU(claPCSC, insGetData, 0x00, 0x00, nil, 0)
}

func loadKeyAPDU(slot byte, key []byte) []byte {
	return buildAPDU(claPCSC, insLoadKey, 0x00, slot, key, -1)
}

// authAPDU is the PC/SC general authenticate: version 1, block, key type
// (0x60 or 0x61) and the reader key slot.
func authAPDU(block, keyType, slot byte) []byte {
	return buildAPDU(claPCSC, insAuth, 0x00, 0x00, []byte{0x01, 0x00, block, keyType, slot}, -1)
}

func readBinaryAPDU(block, length byte) []byte {
	return buildAPDU(claPCSC, insReadBinary, 0x00, block, nil, int(length))
}

func updateBinaryAPDU(block byte, data []byte) []byte {
	return buildAPDU(claPCSC, insUpdateBin, 0x00, block, data, -1)
}

// directAPDU wraps a native frame for readers that pass it straight to the tag.
func directAPDU(frame []byte) []byte {
	return buildAPDU(claPCSC, insDirect, 0x00, 0x00, frame, -1)
}
