package mpu

import (
	"testing"

	"github.com/lsst-ts/crio-ilcbus/modbus"
)

// decodeInstructions walks a composed Program byte stream back into
// (opcode, operand-bytes) pairs, mirroring how the FPGA interpreter would
// consume it.
func decodeInstructions(t *testing.T, data []byte) []struct {
	op  Opcode
	arg []byte
} {
	t.Helper()
	var out []struct {
		op  Opcode
		arg []byte
	}
	i := 0
	for i < len(data) {
		op := Opcode(data[i])
		i++
		switch op {
		case OpWrite:
			n := int(data[i])
			i++
			out = append(out, struct {
				op  Opcode
				arg []byte
			}{op, data[i : i+n]})
			i += n
		case OpWaitMS:
			out = append(out, struct {
				op  Opcode
				arg []byte
			}{op, data[i : i+1]})
			i++
		case OpRead:
			out = append(out, struct {
				op  Opcode
				arg []byte
			}{op, data[i : i+1]})
			i++
		case OpCheckCRC, OpOutput, OpExit:
			out = append(out, struct {
				op  Opcode
				arg []byte
			}{op, nil})
		default:
			t.Fatalf("unknown opcode %d at offset %d", op, i-1)
		}
	}
	return out
}

// TestReadHoldingRegistersSequence is §8 scenario 5: building
// read_holding_registers(addr=0x0003, count=10, timeout=101ms) must yield
// the Modbus request bytes followed by WAIT_MS 101, READ 25, OUTPUT, EXIT.
func TestReadHoldingRegistersSequence(t *testing.T) {
	p := NewProgram()
	p.ReadHoldingRegisters(12, 0x0003, 10, 101)
	instrs := decodeInstructions(t, p.Bytes())

	if len(instrs) != 5 {
		t.Fatalf("got %d instructions, want 5: %+v", len(instrs), instrs)
	}
	if instrs[0].op != OpWrite || len(instrs[0].arg) != 8 {
		t.Fatalf("instr 0 = %+v, want WRITE of 8 bytes", instrs[0])
	}
	if instrs[1].op != OpWaitMS || instrs[1].arg[0] != 101 {
		t.Fatalf("instr 1 = %+v, want WAIT_MS 101", instrs[1])
	}
	if instrs[2].op != OpRead || instrs[2].arg[0] != 25 {
		t.Fatalf("instr 2 = %+v, want READ 25", instrs[2])
	}
	if instrs[3].op != OpOutput {
		t.Fatalf("instr 3 = %+v, want OUTPUT", instrs[3])
	}
	// Bytes() appends the trailing EXIT, the fifth decoded instruction.
	if instrs[4].op != OpExit {
		t.Fatalf("instr 4 = %+v, want EXIT", instrs[4])
	}
	raw := p.Bytes()
	if raw[len(raw)-1] != byte(OpExit) {
		t.Fatalf("program does not end with EXIT: %v", raw)
	}

	req := instrs[0].arg
	buf := modbus.NewBuffer()
	buf.CallFunction(12, funcReadHoldingRegisters, uint16(0x0003), uint16(10))
	if string(req) != string(buf.Bytes()) {
		t.Fatalf("WRITE payload = % x, want % x", req, buf.Bytes())
	}
}

// TestStoreHoldingRegistersAndNotRead is the second half of §8 scenario 5:
// feeding the reply populates registers 3..12 and leaves 2 and 13 unread.
func TestStoreHoldingRegistersAndNotRead(t *testing.T) {
	buf := modbus.NewBuffer()
	buf.WriteU8(12)
	buf.WriteU8(3)
	buf.WriteU8(20)
	for i := uint16(0); i < 10; i++ {
		buf.WriteU16(0x0102 + i*0x0202)
	}
	buf.WriteCRC()

	store := NewStore()
	if err := store.StoreHoldingRegisters(buf.Bytes(), 3); err != nil {
		t.Fatalf("StoreHoldingRegisters: %v", err)
	}

	want := map[uint16]uint16{}
	for i := uint16(0); i < 10; i++ {
		want[3+i] = 0x0102 + i*0x0202
	}
	for addr, val := range want {
		got, err := store.Register(addr)
		if err != nil {
			t.Fatalf("Register(%d): %v", addr, err)
		}
		if got != val {
			t.Fatalf("Register(%d) = %#04x, want %#04x", addr, got, val)
		}
	}

	for _, addr := range []uint16{2, 13} {
		if _, err := store.Register(addr); err == nil {
			t.Fatalf("Register(%d): expected NotRead", addr)
		} else if _, ok := err.(*NotRead); !ok {
			t.Fatalf("Register(%d): got %T, want *NotRead", addr, err)
		}
	}
}

func TestReadHoldingRegistersCountClamped(t *testing.T) {
	p := NewProgram()
	p.ReadHoldingRegisters(1, 0, 9999, 10)
	instrs := decodeInstructions(t, p.Bytes())
	if instrs[2].arg[0] != byte(5+2*maxHoldingRegisterCount) {
		t.Fatalf("READ length = %d, want clamp to %d registers", instrs[2].arg[0], maxHoldingRegisterCount)
	}
}

func TestStoreInputStatusBitOrder(t *testing.T) {
	buf := modbus.NewBuffer()
	buf.WriteU8(1)
	buf.WriteU8(2)
	buf.WriteU8(1)          // byte count
	buf.WriteU8(0b00000101) // bits 0 and 2 set
	buf.WriteCRC()

	store := NewStore()
	if err := store.StoreInputStatus(buf.Bytes(), 100, 3); err != nil {
		t.Fatalf("StoreInputStatus: %v", err)
	}
	for addr, want := range map[uint16]bool{100: true, 101: false, 102: true} {
		got, err := store.InputStatus(addr)
		if err != nil {
			t.Fatalf("InputStatus(%d): %v", addr, err)
		}
		if got != want {
			t.Fatalf("InputStatus(%d) = %v, want %v", addr, got, want)
		}
	}
}

func TestCheckPresetHoldingRegisterMismatch(t *testing.T) {
	buf := modbus.NewBuffer()
	buf.WriteU8(1)
	buf.WriteU8(6)
	buf.WriteU16(5)
	buf.WriteU16(42)
	buf.WriteCRC()

	if err := CheckPresetHoldingRegister(buf.Bytes(), 5, 42); err != nil {
		t.Fatalf("CheckPresetHoldingRegister: %v", err)
	}
	if err := CheckPresetHoldingRegister(buf.Bytes(), 5, 43); err == nil {
		t.Fatal("expected PresetMismatch for wrong value")
	} else if m, ok := err.(*PresetMismatch); !ok || m.Field != "value" {
		t.Fatalf("got %#v, want PresetMismatch{Field: \"value\"}", err)
	}
	if err := CheckPresetHoldingRegister(buf.Bytes(), 6, 42); err == nil {
		t.Fatal("expected PresetMismatch for wrong address")
	} else if m, ok := err.(*PresetMismatch); !ok || m.Field != "address" {
		t.Fatalf("got %#v, want PresetMismatch{Field: \"address\"}", err)
	}
}

func TestCheckPresetHoldingRegistersMismatch(t *testing.T) {
	buf := modbus.NewBuffer()
	buf.WriteU8(1)
	buf.WriteU8(16)
	buf.WriteU16(10)
	buf.WriteU16(4)
	buf.WriteCRC()

	if err := CheckPresetHoldingRegisters(buf.Bytes(), 10, 4); err != nil {
		t.Fatalf("CheckPresetHoldingRegisters: %v", err)
	}
	if err := CheckPresetHoldingRegisters(buf.Bytes(), 10, 5); err == nil {
		t.Fatal("expected PresetMismatch for wrong count")
	}
}
