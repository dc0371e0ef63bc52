package modbus

import (
	"math"

	"github.com/lsst-ts/crio-ilcbus/crc"
)

// Parser reads a received Modbus-RTU frame. Address() and Func() are
// directly addressable as bytes 0 and 1; the read cursor begins at offset 2
// so sequential Read calls decode the payload in order.
type Parser struct {
	data []byte
	pos  int
}

// NewParser constructs a Parser over a received frame. Frames shorter than
// 4 bytes (address, function, 2-byte CRC) are rejected.
func NewParser(data []byte) (*Parser, error) {
	if len(data) < 4 {
		return nil, &ShortFrame{Length: len(data)}
	}
	return &Parser{data: data, pos: 2}, nil
}

// Address returns byte 0 of the frame.
func (p *Parser) Address() byte { return p.data[0] }

// Func returns byte 1 of the frame.
func (p *Parser) Func() byte { return p.data[1] }

// Cursor returns the current read offset.
func (p *Parser) Cursor() int { return p.pos }

// Len returns the total number of bytes in the frame.
func (p *Parser) Len() int { return len(p.data) }

// Remaining returns the number of unread bytes, i.e. len(data) - pos. The
// count includes the 2 CRC trailer bytes.
func (p *Parser) Remaining() int { return len(p.data) - p.pos }

func (p *Parser) take(n int) ([]byte, error) {
	if p.pos+n > len(p.data) {
		return nil, &ErrShortRead{Want: n, Have: len(p.data) - p.pos}
	}
	b := p.data[p.pos : p.pos+n]
	p.pos += n
	return b, nil
}

// ReadU8 decodes an unsigned 8-bit value.
func (p *Parser) ReadU8() (uint8, error) {
	b, err := p.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadI8 decodes a signed 8-bit value.
func (p *Parser) ReadI8() (int8, error) {
	v, err := p.ReadU8()
	return int8(v), err
}

// ReadU16 decodes a big-endian unsigned 16-bit value.
func (p *Parser) ReadU16() (uint16, error) {
	b, err := p.take(2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}

// ReadI16 decodes a big-endian signed 16-bit value.
func (p *Parser) ReadI16() (int16, error) {
	v, err := p.ReadU16()
	return int16(v), err
}

// ReadI24 decodes a 3-byte big-endian two's-complement value, sign-extended
// into an Int24 (backed by int32).
func (p *Parser) ReadI24() (Int24, error) {
	b, err := p.take(3)
	if err != nil {
		return 0, err
	}
	u := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	if u&0x800000 != 0 {
		u |= 0xFF000000 // sign extend
	}
	return Int24(int32(u)), nil
}

// ReadU32 decodes a big-endian unsigned 32-bit value.
func (p *Parser) ReadU32() (uint32, error) {
	b, err := p.take(4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

// ReadI32 decodes a big-endian signed 32-bit value.
func (p *Parser) ReadI32() (int32, error) {
	v, err := p.ReadU32()
	return int32(v), err
}

// ReadU48 decodes a 6-byte big-endian unsigned value into a uint64.
func (p *Parser) ReadU48() (uint64, error) {
	b, err := p.take(6)
	if err != nil {
		return 0, err
	}
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v, nil
}

// ReadU64 decodes a big-endian unsigned 64-bit value.
func (p *Parser) ReadU64() (uint64, error) {
	b, err := p.take(8)
	if err != nil {
		return 0, err
	}
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v, nil
}

// ReadF32 decodes an IEEE-754 32-bit float from its raw big-endian bit
// pattern.
func (p *Parser) ReadF32() (float32, error) {
	v, err := p.ReadU32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// ReadString consumes length bytes as UTF-8, with no trimming of trailing
// padding.
func (p *Parser) ReadString(length int) (string, error) {
	b, err := p.take(length)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadBytes consumes and returns the next length raw bytes.
func (p *Parser) ReadBytes(length int) ([]byte, error) {
	b, err := p.take(length)
	if err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, b)
	return out, nil
}

// CheckCRC computes the CRC over bytes [0, cursor) and compares it to the
// little-endian u16 at [cursor, cursor+2). On success the cursor advances
// past the CRC; if bytes remain after that, CheckCRC fails with
// LongResponse (the ok/error handler's side effects still stand — the
// caller decides whether to treat this as fatal).
func (p *Parser) CheckCRC() error {
	tail, err := p.take(2)
	if err != nil {
		return err
	}
	computed := crc.Of(p.data[:p.pos-2])
	received := uint16(tail[0]) | uint16(tail[1])<<8
	if computed != received {
		return &CrcError{Computed: computed, Received: received}
	}
	if p.pos < len(p.data) {
		return &LongResponse{ExtraBytes: len(p.data) - p.pos}
	}
	return nil
}
