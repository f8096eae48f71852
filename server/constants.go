package server

import "github.com/dotside-studios/davi-nfc-reader/buildinfo"

// mDNS service discovery constants
var (
	MDNSServiceType = "_nfc-reader._tcp"
	MDNSServiceName = buildinfo.DisplayName
	MDNSDomain      = "local."
)

// WebSocket event types pushed to clients
const (
	WSMessageTypeHello        = "hello"
	WSMessageTypeCardInserted = "cardInserted"
	WSMessageTypeCardRemoved  = "cardRemoved"
	WSMessageTypeError        = "error"
)

// WebSocket request types accepted from clients
const (
	WSRequestReaderStatus = "readerStatus"
	WSRequestOpenChannel  = "openChannel"
	WSRequestCloseChannel = "closeChannel"
	WSRequestTransmitAPDU = "transmitApdu"
)

// Error codes carried by error responses
const (
	ErrCodeParse       = "PARSE_ERROR"
	ErrCodeUnknownType = "UNKNOWN_TYPE"
	ErrCodeBadRequest  = "BAD_REQUEST"
	ErrCodeReader      = "READER_ERROR"
)

// CORS configuration
const (
	CORSAllowOrigin  = "*"
	CORSAllowMethods = "GET, OPTIONS"
	CORSAllowHeaders = "Content-Type, Authorization"
)
