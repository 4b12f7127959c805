package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrMessageTooLarge = errors.New("payload exceeds maximum size")
	ErrFormatMismatch  = errors.New("payload does not match message format")
	ErrUnknownMessage  = errors.New("unknown message")
	ErrBadFormat       = errors.New("invalid format string")
)

// UnknownMessageError reports a code that is not legal for the receiving
// session: unrecognised, introduced after the negotiated version, not
// valid in the current phase, or sent by the wrong role.
type UnknownMessageError struct {
	Code    Code
	Version Version
	Phase   Phase // zero when encoding
}

func (e *UnknownMessageError) Error() string {
	if e.Phase == 0 {
		return fmt.Sprintf("unknown message %q at version %s", e.Code.String(), e.Version)
	}
	return fmt.Sprintf("unknown message %q at version %s (%s)", e.Code.String(), e.Version, e.Phase)
}

// Is lets callers match with errors.Is(err, ErrUnknownMessage).
func (e *UnknownMessageError) Is(target error) bool {
	return target == ErrUnknownMessage
}
