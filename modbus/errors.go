// Package modbus implements the Modbus-RTU PDU wire format: a frame writer
// (Buffer), a frame reader (Parser), and the error taxonomy raised while
// composing or decoding frames.
package modbus

import "fmt"

// ShortFrame is raised when a Parser is constructed on fewer than 4 bytes
// (address, function, 2-byte CRC is the minimum legal frame).
type ShortFrame struct {
	Length int
}

func (e *ShortFrame) Error() string {
	return fmt.Sprintf("modbus: short frame (%d bytes, need at least 4)", e.Length)
}

// LongResponse is raised when bytes remain in the buffer after the CRC has
// been read and verified, indicating framing drift. It does not invalidate
// whatever the handler already did with the payload.
type LongResponse struct {
	ExtraBytes int
}

func (e *LongResponse) Error() string {
	return fmt.Sprintf("modbus: long response (%d unexpected trailing bytes)", e.ExtraBytes)
}

// CrcError is raised when the CRC computed over the received bytes does not
// match the CRC transmitted at the tail of the frame.
type CrcError struct {
	Computed, Received uint16
}

func (e *CrcError) Error() string {
	return fmt.Sprintf("modbus: crc mismatch (computed %#04x, received %#04x)", e.Computed, e.Received)
}

// WrongResponse is raised when a reply's (address, function) does not match
// the request at the Bus List's cursor.
type WrongResponse struct {
	GotAddr, GotFunc           byte
	ExpectedAddr, ExpectedFunc byte
}

func (e *WrongResponse) Error() string {
	return fmt.Sprintf("modbus: wrong response (got addr=%d func=%#02x, expected addr=%d func=%#02x)",
		e.GotAddr, e.GotFunc, e.ExpectedAddr, e.ExpectedFunc)
}

// UnexpectedResponse is raised when a reply's function code is not in the
// Bus List's handler table at all (neither the ok nor the error form of any
// registered function).
type UnexpectedResponse struct {
	Addr, Func byte
}

func (e *UnexpectedResponse) Error() string {
	return fmt.Sprintf("modbus: unexpected response (addr=%d func=%#02x)", e.Addr, e.Func)
}

// ErrorResponse is raised when a reply carries the Modbus error mask
// (function | 0x80) and the Bus List has no on_error handler registered for
// that function.
type ErrorResponse struct {
	Addr, Func, Code byte
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("modbus: error response (addr=%d func=%#02x code=%#02x)", e.Addr, e.Func, e.Code)
}

// MissingResponse describes a pending request the cursor was advanced past
// because a later reply matched a request further along the list.
// buslist.List.Parse does not return it: a reply that does not match the
// pending request is reported as WrongResponse.
type MissingResponse struct {
	Addr, Func byte
}

func (e *MissingResponse) Error() string {
	return fmt.Sprintf("modbus: missing response (addr=%d func=%#02x)", e.Addr, e.Func)
}

// ErrShortRead is returned by Parser read methods when fewer bytes remain in
// the frame than the field being decoded requires.
type ErrShortRead struct {
	Want, Have int
}

func (e *ErrShortRead) Error() string {
	return fmt.Sprintf("modbus: short read (want %d bytes, have %d)", e.Want, e.Have)
}
