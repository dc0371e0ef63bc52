// Package mpu composes the meta-instruction byte stream interpreted by the
// FPGA's Modbus Processing Unit (§4.8): a small program of WRITE / WAIT_MS /
// READ / CHECK_CRC / OUTPUT / EXIT instructions that lets the host issue a
// full Modbus request/response round trip in one FPGA-side pass, then
// stores the decoded register/input-status values it reports back.
package mpu

import (
	"fmt"
	"sync"

	"github.com/lsst-ts/crio-ilcbus/internal/numeric"
	"github.com/lsst-ts/crio-ilcbus/modbus"
)

// Modbus caps a single request's register/input count so the reply byte
// count fits the MPU's own one-byte READ length field; these mirror the
// standard Modbus RTU read limits.
const (
	maxHoldingRegisterCount = 125
	maxInputStatusCount     = 2000
)

// Opcode identifies one MPU meta-instruction.
type Opcode byte

const (
	OpWrite Opcode = iota
	OpWaitMS
	OpRead
	OpCheckCRC
	OpOutput
	OpExit
)

// Standard Modbus function codes used by the MPU request builders.
const (
	funcReadHoldingRegisters   = 0x03
	funcReadInputStatus        = 0x02
	funcPresetHoldingRegister  = 0x06
	funcPresetHoldingRegisters = 0x10
)

// Program accumulates meta-instructions. Composing another request after
// Bytes has been called for a prior one elides all but the final EXIT, per
// §4.8.
type Program struct {
	data []byte
	open bool // not set or read by any Program method
}

// NewProgram returns an empty Program.
func NewProgram() *Program { return &Program{} }

// Bytes returns the composed instruction stream, appending a trailing EXIT
// if one hasn't been written yet.
func (p *Program) Bytes() []byte {
	if len(p.data) == 0 || p.data[len(p.data)-1] != byte(OpExit) {
		p.data = append(p.data, byte(OpExit))
	}
	return p.data
}

func (p *Program) dropTrailingExit() {
	if n := len(p.data); n > 0 && p.data[n-1] == byte(OpExit) {
		p.data = p.data[:n-1]
	}
}

func (p *Program) write(bytes []byte) *Program {
	p.dropTrailingExit()
	p.data = append(p.data, byte(OpWrite), byte(len(bytes)))
	p.data = append(p.data, bytes...)
	return p
}

func (p *Program) waitMS(ms byte) *Program {
	p.dropTrailingExit()
	p.data = append(p.data, byte(OpWaitMS), ms)
	return p
}

func (p *Program) read(length byte) *Program {
	p.dropTrailingExit()
	p.data = append(p.data, byte(OpRead), length)
	return p
}

func (p *Program) checkCRC() *Program {
	p.dropTrailingExit()
	p.data = append(p.data, byte(OpCheckCRC))
	return p
}

func (p *Program) output() *Program {
	p.dropTrailingExit()
	p.data = append(p.data, byte(OpOutput))
	return p
}

// ReadHoldingRegisters appends the WRITE/WAIT_MS/READ/OUTPUT sequence for a
// function-03 request of count registers starting at addr.
func (p *Program) ReadHoldingRegisters(unit byte, addr, count uint16, waitMS byte) *Program {
	count = numeric.Clamp(count, 1, maxHoldingRegisterCount)
	req := buildRequest(unit, funcReadHoldingRegisters, addr, count)
	return p.write(req).waitMS(waitMS).read(byte(5 + 2*count)).output()
}

// ReadInputStatus appends the sequence for a function-02 request of count
// discrete inputs starting at addr.
func (p *Program) ReadInputStatus(unit byte, addr, count uint16, waitMS byte) *Program {
	count = numeric.Clamp(count, 1, maxInputStatusCount)
	req := buildRequest(unit, funcReadInputStatus, addr, count)
	byteCount := (count + 7) / 8
	return p.write(req).waitMS(waitMS).read(byte(5 + byteCount)).output()
}

// PresetHoldingRegister appends the sequence for a function-06 write of a
// single register.
func (p *Program) PresetHoldingRegister(unit byte, addr, value uint16, waitMS byte) *Program {
	buf := modbus.NewBuffer()
	buf.CallFunction(unit, funcPresetHoldingRegister, addr, value)
	return p.write(buf.Bytes()).waitMS(waitMS).read(8).output()
}

// PresetHoldingRegisters appends the sequence for a function-16 write of
// multiple contiguous registers.
func (p *Program) PresetHoldingRegisters(unit byte, addr uint16, values []uint16, waitMS byte) *Program {
	buf := modbus.NewBuffer()
	args := make([]any, 0, 3+len(values))
	args = append(args, addr, uint16(len(values)), byte(len(values)*2))
	for _, v := range values {
		args = append(args, v)
	}
	buf.CallFunction(unit, funcPresetHoldingRegisters, args...)
	return p.write(buf.Bytes()).waitMS(waitMS).read(8).output()
}

func buildRequest(unit, function byte, addr, count uint16) []byte {
	buf := modbus.NewBuffer()
	buf.CallFunction(unit, function, addr, count)
	return buf.Bytes()
}

// NotRead is raised by the Store lookup accessors when the requested
// address was never populated by a decoded MPU reply.
type NotRead struct{ Address uint16 }

func (e *NotRead) Error() string {
	return fmt.Sprintf("mpu: address %d was not read", e.Address)
}

// PresetMismatch is raised when a decoded preset-write acknowledgement
// doesn't echo back the address/value (function 6) or address/count
// (function 16) that was actually requested.
type PresetMismatch struct {
	Field     string
	Want, Got uint16
}

func (e *PresetMismatch) Error() string {
	return fmt.Sprintf("mpu: preset ack mismatch: %s want %d got %d", e.Field, e.Want, e.Got)
}

// CheckPresetHoldingRegister validates a function-06 acknowledgement echoes
// the register address and value that were requested.
func CheckPresetHoldingRegister(reply []byte, wantAddr, wantValue uint16) error {
	p, err := modbus.NewParser(reply)
	if err != nil {
		return err
	}
	addr, err := p.ReadU16()
	if err != nil {
		return err
	}
	value, err := p.ReadU16()
	if err != nil {
		return err
	}
	if err := p.CheckCRC(); err != nil {
		return err
	}
	if addr != wantAddr {
		return &PresetMismatch{Field: "address", Want: wantAddr, Got: addr}
	}
	if value != wantValue {
		return &PresetMismatch{Field: "value", Want: wantValue, Got: value}
	}
	return nil
}

// CheckPresetHoldingRegisters validates a function-16 acknowledgement echoes
// the starting register address and register count that were requested.
func CheckPresetHoldingRegisters(reply []byte, wantAddr, wantCount uint16) error {
	p, err := modbus.NewParser(reply)
	if err != nil {
		return err
	}
	addr, err := p.ReadU16()
	if err != nil {
		return err
	}
	count, err := p.ReadU16()
	if err != nil {
		return err
	}
	if err := p.CheckCRC(); err != nil {
		return err
	}
	if addr != wantAddr {
		return &PresetMismatch{Field: "address", Want: wantAddr, Got: addr}
	}
	if count != wantCount {
		return &PresetMismatch{Field: "count", Want: wantCount, Got: count}
	}
	return nil
}

// Store holds the decoded register and input-status values reported back
// by MPU OUTPUT frames. It is safe for concurrent use: a reader goroutine
// (consuming application logic) and a writer goroutine (decoding MPU
// replies) access it independently.
type Store struct {
	mu           sync.RWMutex
	registers    map[uint16]uint16
	inputStatus  map[uint16]bool
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		registers:   map[uint16]uint16{},
		inputStatus: map[uint16]bool{},
	}
}

// StoreHoldingRegisters decodes a function-03 reply (addr, func, byteCount,
// register values..., crc) starting at startAddr and records each register.
func (s *Store) StoreHoldingRegisters(reply []byte, startAddr uint16) error {
	p, err := modbus.NewParser(reply)
	if err != nil {
		return err
	}
	count, err := p.ReadU8()
	if err != nil {
		return err
	}
	n := int(count) / 2
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		v, err := p.ReadU16()
		if err != nil {
			return err
		}
		s.registers[startAddr+uint16(i)] = v
	}
	return p.CheckCRC()
}

// StoreInputStatus decodes a function-02 reply and records one bool per
// input, bit-packed per Modbus convention (first status bit in the
// least-significant bit of the first payload byte).
func (s *Store) StoreInputStatus(reply []byte, startAddr uint16, count int) error {
	p, err := modbus.NewParser(reply)
	if err != nil {
		return err
	}
	byteCount, err := p.ReadU8()
	if err != nil {
		return err
	}
	bytesVal, err := p.ReadBytes(int(byteCount))
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < count; i++ {
		byteIdx, bitIdx := i/8, uint(i%8)
		bit := bytesVal[byteIdx]&(1<<bitIdx) != 0
		s.inputStatus[startAddr+uint16(i)] = bit
	}
	return p.CheckCRC()
}

// Register returns the last decoded value for addr.
func (s *Store) Register(addr uint16) (uint16, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.registers[addr]
	if !ok {
		return 0, &NotRead{Address: addr}
	}
	return v, nil
}

// InputStatus returns the last decoded value for addr.
func (s *Store) InputStatus(addr uint16) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.inputStatus[addr]
	if !ok {
		return false, &NotRead{Address: addr}
	}
	return v, nil
}
