package nfc

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a specific class of reader error for programmatic handling.
type ErrorCode int

const (
	// Reader operation errors (100-199)
	ErrCodeUnsupportedTechnology ErrorCode = iota + 100
	ErrCodeChannelIO
	ErrCodeInvalidState
	ErrCodeConfiguration
	ErrCodeSizeConstraint
	ErrCodeInvalidArgument
	ErrCodeReaderIO
)

var codeNames = map[ErrorCode]string{
	ErrCodeUnsupportedTechnology: "unsupported technology",
	ErrCodeChannelIO:             "channel I/O error",
	ErrCodeInvalidState:          "invalid state",
	ErrCodeConfiguration:         "configuration error",
	ErrCodeSizeConstraint:        "size constraint violated",
	ErrCodeInvalidArgument:       "invalid argument",
	ErrCodeReaderIO:              "reader I/O error",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("error code %d", int(c))
}

// NFCError provides structured error information for programmatic handling.
type NFCError struct {
	Code    ErrorCode
	Op      string // Operation that failed (e.g., "OpenPhysicalChannel", "TransmitAPDU")
	TagUID  string // Optional: UID of the bound tag
	Message string
	Cause   error
}

func (e *NFCError) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	if e.Message != "" {
		sb.WriteString(e.Message)
	} else {
		sb.WriteString(e.Code.String())
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *NFCError) Unwrap() error {
	return e.Cause
}

// Is matches any NFCError carrying the same code, so the sentinels below work
// with errors.Is.
func (e *NFCError) Is(target error) bool {
	if t, ok := target.(*NFCError); ok {
		return e.Code == t.Code
	}
	return false
}

// Sentinels for errors.Is checks.
var (
	ErrUnsupportedTechnology = &NFCError{Code: ErrCodeUnsupportedTechnology}
	ErrChannelIO             = &NFCError{Code: ErrCodeChannelIO}
	ErrInvalidState          = &NFCError{Code: ErrCodeInvalidState}
	ErrConfiguration         = &NFCError{Code: ErrCodeConfiguration}
	ErrSizeConstraint        = &NFCError{Code: ErrCodeSizeConstraint}
	ErrInvalidArgument       = &NFCError{Code: ErrCodeInvalidArgument}
	ErrReaderIO              = &NFCError{Code: ErrCodeReaderIO}
)

// ErrRemovalWaitStopped is returned by WaitForCardRemoval when the wait was
// cancelled through StopWaitForCardRemoval.
var ErrRemovalWaitStopped = errors.New("card removal wait stopped")

// NewUnsupportedTechnologyError reports a tag none of whose technologies is activated.
func NewUnsupportedTechnologyError(op string, techs []string) *NFCError {
	return &NFCError{
		Code:    ErrCodeUnsupportedTechnology,
		Op:      op,
		Message: fmt.Sprintf("no activated protocol matches tag technologies %v", techs),
	}
}

// NewChannelIOError wraps a transport failure on the physical channel.
func NewChannelIOError(op, message string, cause error) *NFCError {
	return &NFCError{
		Code:    ErrCodeChannelIO,
		Op:      op,
		Message: message,
		Cause:   cause,
	}
}

// NewInvalidStateError reports an operation attempted in the wrong channel state.
func NewInvalidStateError(op, message string) *NFCError {
	return &NFCError{
		Code:    ErrCodeInvalidState,
		Op:      op,
		Message: message,
	}
}

// NewConfigurationError reports misconfigured collaborators or options.
func NewConfigurationError(op, message string, cause error) *NFCError {
	return &NFCError{
		Code:    ErrCodeConfiguration,
		Op:      op,
		Message: message,
		Cause:   cause,
	}
}

// NewSizeConstraintError reports a buffer length outside what the technology allows.
func NewSizeConstraintError(op string, got, limit int) *NFCError {
	return &NFCError{
		Code:    ErrCodeSizeConstraint,
		Op:      op,
		Message: fmt.Sprintf("length %d outside allowed size %d", got, limit),
	}
}

// NewReaderIOError wraps failures to start or stop OS reader mode.
func NewReaderIOError(op string, cause error) *NFCError {
	return &NFCError{
		Code:    ErrCodeReaderIO,
		Op:      op,
		Message: "reader mode failure",
		Cause:   cause,
	}
}

// Errorf creates an NFCError with a formatted message.
func Errorf(code ErrorCode, op, format string, args ...interface{}) *NFCError {
	return &NFCError{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsChannelIOError checks if an error is a physical channel failure.
func IsChannelIOError(err error) bool {
	return GetErrorCode(err) == ErrCodeChannelIO
}

// IsInvalidStateError checks if an error reports a wrong channel state.
func IsInvalidStateError(err error) bool {
	return GetErrorCode(err) == ErrCodeInvalidState
}

// IsUnsupportedTechnologyError checks if an error reports an unsupported tag.
func IsUnsupportedTechnologyError(err error) bool {
	return GetErrorCode(err) == ErrCodeUnsupportedTechnology
}

// GetErrorCode extracts the ErrorCode from an error if it's an NFCError.
// Returns 0 if the error is not an NFCError.
func GetErrorCode(err error) ErrorCode {
	var nfcErr *NFCError
	if errors.As(err, &nfcErr) {
		return nfcErr.Code
	}
	return 0
}
