// Package crc implements the Modbus RTU CRC16 (polynomial 0xA001, initial
// value 0xFFFF, reflected, result transmitted little-endian).
package crc

// CRC16 is an incremental Modbus CRC accumulator. The zero value is not
// ready for use; construct one with New or NewFromBytes.
type CRC16 struct {
	acc uint16
}

// New returns a CRC16 primed with the Modbus initial value.
func New() *CRC16 {
	c := &CRC16{}
	c.Reset()
	return c
}

// NewFromBytes returns a CRC16 that has already accumulated b.
func NewFromBytes(b []byte) *CRC16 {
	c := New()
	c.Update(b)
	return c
}

// Reset returns the accumulator to its initial value.
func (c *CRC16) Reset() {
	c.acc = 0xFFFF
}

// UpdateByte folds a single byte into the accumulator.
func (c *CRC16) UpdateByte(b byte) {
	c.acc ^= uint16(b)
	for i := 0; i < 8; i++ {
		if c.acc&1 != 0 {
			c.acc = (c.acc >> 1) ^ 0xA001
		} else {
			c.acc >>= 1
		}
	}
}

// Update folds every byte of b into the accumulator, in order.
func (c *CRC16) Update(b []byte) {
	for _, v := range b {
		c.UpdateByte(v)
	}
}

// Get returns the current accumulator value.
func (c *CRC16) Get() uint16 {
	return c.acc
}

// Bytes returns the accumulator as the two wire bytes Modbus appends to a
// frame: low byte first, then high byte.
func (c *CRC16) Bytes() [2]byte {
	v := c.acc
	return [2]byte{byte(v), byte(v >> 8)}
}

// Of is a convenience one-shot CRC over b.
func Of(b []byte) uint16 {
	return NewFromBytes(b).Get()
}

// Verify reports whether received equals the accumulator — i.e. whether
// received is the correct CRC for the bytes already folded into c.
func (c *CRC16) Verify(received uint16) bool {
	return c.acc == received
}
