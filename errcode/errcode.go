// Package errcode classifies the module's precise struct errors (CrcError,
// WrongResponse, Timeout, ...) into a small, stable set of coarse codes
// suitable for metrics and log aggregation, without requiring every caller
// to know the full error taxonomy. It is the coarse half of the two-layer
// error handling approach: struct errors carry the detail a caller needs to
// react correctly, errcode.Of(err) carries the category a dashboard needs
// to count.
package errcode

import (
	"errors"

	"github.com/lsst-ts/crio-ilcbus/buslist"
	"github.com/lsst-ts/crio-ilcbus/ilcbus"
	"github.com/lsst-ts/crio-ilcbus/modbus"
	"github.com/lsst-ts/crio-ilcbus/mpu"
	"github.com/lsst-ts/crio-ilcbus/task"
	"github.com/lsst-ts/crio-ilcbus/transport"
	"github.com/lsst-ts/crio-ilcbus/worker"
)

// Code is a stable, bus-facing error identifier.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes.
const (
	OK                Code = "ok"
	ShortFrame        Code = "short_frame"
	CRCMismatch       Code = "crc_mismatch"
	WrongResponse     Code = "wrong_response"
	UnexpectedReply   Code = "unexpected_reply"
	DeviceError       Code = "device_error"
	InvalidLength     Code = "invalid_length"
	PresetMismatch    Code = "preset_mismatch"
	UnknownMode       Code = "unknown_mode"
	NotRead           Code = "not_read"
	Timeout           Code = "timeout"
	CommunicationFail Code = "communication_fail"
	ValidationFailed  Code = "validation_failed"
	CannotStop        Code = "cannot_stop"
	Unknown           Code = "unknown"
)

// Of classifies err into a coarse Code. A nil error maps to OK.
func Of(err error) Code {
	if err == nil {
		return OK
	}

	var shortFrame *modbus.ShortFrame
	var crcErr *modbus.CrcError
	var wrongResp *modbus.WrongResponse
	var unexpectedResp *modbus.UnexpectedResponse
	var errorResp *modbus.ErrorResponse
	var longResp *modbus.LongResponse
	var missingResp *modbus.MissingResponse
	var shortRead *modbus.ErrShortRead
	var invalidLength *ilcbus.InvalidLength
	var unknownMode *ilcbus.UnknownMode
	var dup *buslist.DuplicateHandler
	var notRead *mpu.NotRead
	var presetMismatch *mpu.PresetMismatch
	var emptyAnswer *transport.EmptyAnswer
	var reqTimeout *transport.RequestTimeout
	var commErr *transport.CommunicationError
	var validationFailed *task.ValidationFailed
	var workerTimeout *worker.Timeout
	var cannotStop *worker.CannotStop

	switch {
	case errors.As(err, &shortFrame), errors.As(err, &shortRead):
		return ShortFrame
	case errors.As(err, &crcErr), errors.As(err, &longResp):
		return CRCMismatch
	case errors.As(err, &wrongResp), errors.As(err, &missingResp):
		return WrongResponse
	case errors.As(err, &unexpectedResp), errors.As(err, &dup):
		return UnexpectedReply
	case errors.As(err, &errorResp):
		return DeviceError
	case errors.As(err, &invalidLength):
		return InvalidLength
	case errors.As(err, &unknownMode):
		return UnknownMode
	case errors.As(err, &notRead):
		return NotRead
	case errors.As(err, &presetMismatch):
		return PresetMismatch
	case errors.As(err, &emptyAnswer), errors.As(err, &reqTimeout), errors.As(err, &workerTimeout):
		return Timeout
	case errors.As(err, &commErr):
		return CommunicationFail
	case errors.As(err, &validationFailed):
		return ValidationFailed
	case errors.As(err, &cannotStop):
		return CannotStop
	default:
		return Unknown
	}
}
