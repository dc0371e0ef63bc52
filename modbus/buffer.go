package modbus

import (
	"fmt"
	"math"

	"github.com/lsst-ts/crio-ilcbus/crc"
)

// Int24 is a 3-byte big-endian two's-complement payload field. Buffer.Write
// and Parser.ReadI24 use this type to distinguish a 24-bit field from a
// plain int32.
type Int24 int32

const (
	Int24Min = -0x800000
	Int24Max = 0x7FFFFF
)

// Buffer composes a Modbus-RTU PDU byte by byte, tracking a running CRC so
// that WriteCRC can append the trailer without a second pass over the data.
// Buffer never emits anything but raw PDU bytes; framing timing belongs to
// the Transport.
type Buffer struct {
	data []byte
	crc  *crc.CRC16
}

// NewBuffer returns an empty Buffer ready for writing.
func NewBuffer() *Buffer {
	return &Buffer{crc: crc.New()}
}

// Bytes returns the bytes written so far.
func (b *Buffer) Bytes() []byte { return b.data }

// Len returns the number of bytes written so far.
func (b *Buffer) Len() int { return len(b.data) }

func (b *Buffer) appendByte(v byte) {
	b.data = append(b.data, v)
	b.crc.UpdateByte(v)
}

func (b *Buffer) appendBytes(v []byte) {
	b.data = append(b.data, v...)
	b.crc.Update(v)
}

// WriteU8 appends an unsigned 8-bit value.
func (b *Buffer) WriteU8(v uint8) { b.appendByte(v) }

// WriteI8 appends a signed 8-bit value.
func (b *Buffer) WriteI8(v int8) { b.appendByte(byte(v)) }

// WriteU16 appends an unsigned 16-bit value, big-endian.
func (b *Buffer) WriteU16(v uint16) {
	b.appendBytes([]byte{byte(v >> 8), byte(v)})
}

// WriteI16 appends a signed 16-bit value, big-endian two's complement.
func (b *Buffer) WriteI16(v int16) { b.WriteU16(uint16(v)) }

// WriteU32 appends an unsigned 32-bit value, big-endian.
func (b *Buffer) WriteU32(v uint32) {
	b.appendBytes([]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

// WriteI32 appends a signed 32-bit value, big-endian two's complement.
func (b *Buffer) WriteI32(v int32) { b.WriteU32(uint32(v)) }

// WriteI24 appends the low three bytes of the big-endian two's-complement
// encoding of v.
func (b *Buffer) WriteI24(v Int24) {
	u := uint32(v) & 0x00FFFFFF
	b.appendBytes([]byte{byte(u >> 16), byte(u >> 8), byte(u)})
}

// WriteU48 appends a 6-byte big-endian unsigned value. Only the low 48 bits
// of v are significant.
func (b *Buffer) WriteU48(v uint64) {
	b.appendBytes([]byte{
		byte(v >> 40), byte(v >> 32), byte(v >> 24),
		byte(v >> 16), byte(v >> 8), byte(v),
	})
}

// WriteU64 appends an unsigned 64-bit value, big-endian.
func (b *Buffer) WriteU64(v uint64) {
	b.appendBytes([]byte{
		byte(v >> 56), byte(v >> 48), byte(v >> 40), byte(v >> 32),
		byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v),
	})
}

// WriteF32 appends an IEEE-754 32-bit float, transmitted as its raw bit
// pattern in a big-endian u32.
func (b *Buffer) WriteF32(v float32) {
	b.WriteU32(math.Float32bits(v))
}

// WriteBytes appends raw bytes verbatim (used for strings and firmware page
// payloads).
func (b *Buffer) WriteBytes(v []byte) { b.appendBytes(v) }

// WriteCRC appends the low byte then the high byte of the CRC accumulated
// over every byte written since the buffer was created or since the last
// WriteCRC, then resets the running CRC so another frame can follow in the
// same buffer (composite "then..." sequences).
func (b *Buffer) WriteCRC() {
	tail := b.crc.Bytes()
	b.data = append(b.data, tail[0], tail[1])
	b.crc.Reset()
}

// Write encodes a single payload value by dynamic type. It supports every
// scalar type named in §4.2: uint8/16/32/64, int8/16/32, Int24, float32.
func (b *Buffer) Write(v any) error {
	switch t := v.(type) {
	case uint8:
		b.WriteU8(t)
	case int8:
		b.WriteI8(t)
	case uint16:
		b.WriteU16(t)
	case int16:
		b.WriteI16(t)
	case uint32:
		b.WriteU32(t)
	case int32:
		b.WriteI32(t)
	case Int24:
		b.WriteI24(t)
	case uint64:
		b.WriteU64(t)
	case float32:
		b.WriteF32(t)
	case []byte:
		b.WriteBytes(t)
	default:
		return fmt.Errorf("modbus: Buffer.Write: unsupported type %T", v)
	}
	return nil
}

// CallFunction writes addr, function, each arg in order via Write, then
// appends the CRC. It is the convenience form of §4.2's call_function.
func (b *Buffer) CallFunction(addr, function byte, args ...any) error {
	b.WriteU8(addr)
	b.WriteU8(function)
	for _, a := range args {
		if err := b.Write(a); err != nil {
			return err
		}
	}
	b.WriteCRC()
	return nil
}
