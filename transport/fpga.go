package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	serial "github.com/daedaluz/goserial"
)

// FPGA command-FIFO codes (§4.7). The exact values are a stable,
// process-internal choice; both sides of the FIFO are this module.
const (
	cmdWrite     byte = 0x01
	cmdRead      byte = 0x02
	cmdFlush     byte = 0x03
	cmdTelemetry byte = 0x04

	respError byte = 0xFF
)

// CommunicationError is raised when the FPGA command FIFO reports an
// ERROR_RESPONSE frame.
type CommunicationError struct {
	RequestCode byte
	ErrorCode   uint32
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("transport: FPGA reported error %#08x for command %#02x", e.ErrorCode, e.RequestCode)
}

// FPGAChannel implements Channel over a serial device, framing every raw
// byte exchange with a 2-byte (command, length) header written to the FPGA
// command FIFO.
type FPGAChannel struct {
	device string
	opts   *serial.Options
	port   *serial.Port
}

// NewFPGAChannel constructs a Channel for the named serial device (e.g.
// "/dev/ttyUSB0"). baud is not applied: the port is opened with the
// serial.NewOptions() defaults.
func NewFPGAChannel(device string, baud uint32) *FPGAChannel {
	opts := serial.NewOptions()
	return &FPGAChannel{device: device, opts: opts}
}

func (c *FPGAChannel) Open() error {
	p, err := serial.Open(c.device, c.opts)
	if err != nil {
		return err
	}
	c.port = p
	return nil
}

func (c *FPGAChannel) Close() error {
	if c.port == nil {
		return nil
	}
	return c.port.Close()
}

func (c *FPGAChannel) Flush() error {
	return c.sendCommand(cmdFlush, nil)
}

func (c *FPGAChannel) Write(ctx context.Context, data []byte) error {
	return c.sendCommand(cmdWrite, data)
}

func (c *FPGAChannel) Read(ctx context.Context, maxLen int, timeout time.Duration) ([]byte, error) {
	lenBytes := [2]byte{byte(maxLen >> 8), byte(maxLen)}
	if err := c.sendCommand(cmdRead, lenBytes[:]); err != nil {
		return nil, err
	}
	c.port.SetReadTimeout(timeout)
	buf := make([]byte, maxLen)
	n, err := c.port.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// Telemetry reads the FPGA's own cumulative write/read byte counters,
// distinct from Transport's host-side counters.
func (c *FPGAChannel) Telemetry() (written, read uint64, err error) {
	if err := c.sendCommand(cmdTelemetry, nil); err != nil {
		return 0, 0, err
	}
	c.port.SetReadTimeout(time.Second)
	buf := make([]byte, 16)
	n, err := c.port.Read(buf)
	if err != nil {
		return 0, 0, err
	}
	if n < 16 {
		return 0, 0, fmt.Errorf("transport: short telemetry reply (%d bytes)", n)
	}
	return binary.BigEndian.Uint64(buf[0:8]), binary.BigEndian.Uint64(buf[8:16]), nil
}

func (c *FPGAChannel) sendCommand(code byte, payload []byte) error {
	header := [2]byte{code, byte(len(payload))}
	if _, err := c.port.Write(header[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := c.port.Write(payload); err != nil {
			return err
		}
	}

	reply := make([]byte, 1)
	c.port.SetReadTimeout(time.Second)
	n, err := c.port.Read(reply)
	if err != nil {
		return err
	}
	if n == 1 && reply[0] == respError {
		codeBuf := make([]byte, 4)
		if _, err := c.port.Read(codeBuf); err != nil {
			return err
		}
		return &CommunicationError{RequestCode: code, ErrorCode: binary.BigEndian.Uint32(codeBuf)}
	}
	return nil
}
