package protocol

import "fmt"

// ProtocolError describes an inbound frame that could not be decoded into an
// Envelope. These are logged and dropped by the transport.
type ProtocolError struct {
	Reason string
	Frame  []byte
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed frame: %s: %v", e.Reason, e.Err)
	}
	return "malformed frame: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ApplicationError is a relay frame tagged "error".
type ApplicationError struct {
	Code    string
	Message string
}

const defaultErrorMessage = "An error occurred"

func (e *ApplicationError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = defaultErrorMessage
	}
	if e.Code == "" {
		return "relay error: " + msg
	}
	return fmt.Sprintf("relay error %s: %s", e.Code, msg)
}
