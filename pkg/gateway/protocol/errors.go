package protocol

import (
	"fmt"

	"github.com/coder/websocket"
)

// Close codes sent to the client when a session is ended by the server.
const (
	CloseUnknownOpcode     websocket.StatusCode = 4001
	CloseDecodeError       websocket.StatusCode = 4002
	CloseSessionTimeout    websocket.StatusCode = 4009
	CloseInvalidAPIVersion websocket.StatusCode = 4012
)

// Error is a protocol violation. It ends the connection with Code and Reason.
type Error struct {
	Code   websocket.StatusCode
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d)", e.Reason, int(e.Code))
}

// Is matches any *Error with the same close code, so every UnknownOpcode
// error matches ErrUnknownOpcode regardless of the opcode in its reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrDecode            = &Error{Code: CloseDecodeError, Reason: "decode error"}
	ErrUnknownOpcode     = &Error{Code: CloseUnknownOpcode, Reason: "unknown opcode"}
	ErrSessionTimeout    = &Error{Code: CloseSessionTimeout, Reason: "session timed out"}
	ErrInvalidAPIVersion = &Error{Code: CloseInvalidAPIVersion, Reason: "invalid api version"}
)

// UnknownOpcode returns the error for a frame carrying op.
func UnknownOpcode(op int) *Error {
	return &Error{Code: CloseUnknownOpcode, Reason: fmt.Sprintf("unknown opcode %d", op)}
}
