package modbus

import "testing"

// roundTrip writes v with write, then reads it back with read and
// compares. This is the universal write<T>/read<T> invariant from §8.
func roundTrip[T comparable](t *testing.T, v T, write func(*Buffer, T), read func(*Parser) (T, error)) {
	t.Helper()
	b := NewBuffer()
	b.WriteU8(1) // address
	b.WriteU8(2) // function
	write(b, v)
	b.WriteCRC()

	p, err := NewParser(b.Bytes())
	if err != nil {
		t.Fatalf("NewParser: %v", err)
	}
	got, err := read(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != v {
		t.Fatalf("round trip mismatch: wrote %v, read %v", v, got)
	}
	if err := p.CheckCRC(); err != nil {
		t.Fatalf("CheckCRC: %v", err)
	}
}

func TestRoundTripU8(t *testing.T) {
	roundTrip(t, uint8(0xAB), (*Buffer).WriteU8, (*Parser).ReadU8)
}

func TestRoundTripI8(t *testing.T) {
	roundTrip(t, int8(-42), (*Buffer).WriteI8, (*Parser).ReadI8)
}

func TestRoundTripU16(t *testing.T) {
	roundTrip(t, uint16(0xBEEF), (*Buffer).WriteU16, (*Parser).ReadU16)
}

func TestRoundTripI16(t *testing.T) {
	roundTrip(t, int16(-1000), (*Buffer).WriteI16, (*Parser).ReadI16)
}

func TestRoundTripU32(t *testing.T) {
	roundTrip(t, uint32(0xDEADBEEF), (*Buffer).WriteU32, (*Parser).ReadU32)
}

func TestRoundTripI32(t *testing.T) {
	roundTrip(t, int32(-123456789), (*Buffer).WriteI32, (*Parser).ReadI32)
}

func TestRoundTripU64(t *testing.T) {
	roundTrip(t, uint64(0x0102030405060708), (*Buffer).WriteU64, (*Parser).ReadU64)
}

func TestRoundTripF32(t *testing.T) {
	roundTrip(t, float32(3.1415927), (*Buffer).WriteF32, (*Parser).ReadF32)
}

func TestRoundTripI24(t *testing.T) {
	roundTrip(t, Int24(-12345), (*Buffer).WriteI24, (*Parser).ReadI24)
}

func TestRoundTripI24Boundaries(t *testing.T) {
	for _, v := range []Int24{Int24Min, Int24Max, 0, -1, 1} {
		roundTrip(t, v, (*Buffer).WriteI24, (*Parser).ReadI24)
	}
}

func TestRoundTripU48(t *testing.T) {
	b := NewBuffer()
	b.WriteU8(1)
	b.WriteU8(2)
	b.WriteU48(0x0102030405)
	b.WriteCRC()

	p, err := NewParser(b.Bytes())
	if err != nil {
		t.Fatalf("NewParser: %v", err)
	}
	got, err := p.ReadU48()
	if err != nil {
		t.Fatalf("ReadU48: %v", err)
	}
	if got != 0x0102030405 {
		t.Fatalf("got %#x, want %#x", got, 0x0102030405)
	}
	if err := p.CheckCRC(); err != nil {
		t.Fatalf("CheckCRC: %v", err)
	}
}

func TestWriteDynamicDispatch(t *testing.T) {
	b := NewBuffer()
	if err := b.CallFunction(5, 6, uint8(1), int16(-2), float32(3.5), []byte{9, 9}); err != nil {
		t.Fatalf("CallFunction: %v", err)
	}
	p, err := NewParser(b.Bytes())
	if err != nil {
		t.Fatalf("NewParser: %v", err)
	}
	if v, _ := p.ReadU8(); v != 1 {
		t.Fatalf("ReadU8 = %d, want 1", v)
	}
	if v, _ := p.ReadI16(); v != -2 {
		t.Fatalf("ReadI16 = %d, want -2", v)
	}
	if v, _ := p.ReadF32(); v != 3.5 {
		t.Fatalf("ReadF32 = %v, want 3.5", v)
	}
	got, err := p.ReadBytes(2)
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if got[0] != 9 || got[1] != 9 {
		t.Fatalf("ReadBytes = %v, want [9 9]", got)
	}
	if err := p.CheckCRC(); err != nil {
		t.Fatalf("CheckCRC: %v", err)
	}
}

func TestWriteUnsupportedType(t *testing.T) {
	b := NewBuffer()
	if err := b.Write("not a wire type"); err == nil {
		t.Fatal("expected error for unsupported type")
	}
}

func TestShortFrameRejected(t *testing.T) {
	if _, err := NewParser([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected ShortFrame error")
	} else if _, ok := err.(*ShortFrame); !ok {
		t.Fatalf("got %T, want *ShortFrame", err)
	}
}

func TestCheckCRCMismatch(t *testing.T) {
	b := NewBuffer()
	b.WriteU8(1)
	b.WriteU8(2)
	b.WriteU8(3)
	b.WriteCRC()
	frame := b.Bytes()
	frame[len(frame)-1] ^= 0xFF // corrupt CRC high byte

	p, err := NewParser(frame)
	if err != nil {
		t.Fatalf("NewParser: %v", err)
	}
	if _, err := p.ReadU8(); err != nil {
		t.Fatalf("ReadU8: %v", err)
	}
	if err := p.CheckCRC(); err == nil {
		t.Fatal("expected CrcError")
	} else if _, ok := err.(*CrcError); !ok {
		t.Fatalf("got %T, want *CrcError", err)
	}
}

func TestCheckCRCLongResponse(t *testing.T) {
	b := NewBuffer()
	b.WriteU8(1)
	b.WriteU8(2)
	b.WriteU8(3)
	b.WriteCRC()
	frame := append(b.Bytes(), 0xFF) // trailing garbage after CRC

	p, err := NewParser(frame)
	if err != nil {
		t.Fatalf("NewParser: %v", err)
	}
	if _, err := p.ReadU8(); err != nil {
		t.Fatalf("ReadU8: %v", err)
	}
	if err := p.CheckCRC(); err == nil {
		t.Fatal("expected LongResponse")
	} else if _, ok := err.(*LongResponse); !ok {
		t.Fatalf("got %T, want *LongResponse", err)
	}
}
