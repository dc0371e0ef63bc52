package buslist

import (
	"errors"
	"testing"

	"github.com/lsst-ts/crio-ilcbus/modbus"
)

func appendCRCFrame(t *testing.T, head []byte) []byte {
	t.Helper()
	buf := modbus.NewBuffer()
	buf.WriteBytes(head)
	buf.WriteCRC()
	return buf.Bytes()
}

func TestCallFunctionThenParseInvokesHandlerOnce(t *testing.T) {
	l := New(nil)
	calls := 0
	if err := l.AddResponse(0x11, func(p *modbus.Parser) error {
		calls++
		return p.CheckCRC()
	}, 0x91, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := l.CallFunction(132, 0x11); err != nil {
		t.Fatal(err)
	}

	reply := appendCRCFrame(t, []byte{132, 0x11})
	if err := l.Parse(reply); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if calls != 1 {
		t.Fatalf("handler called %d times, want 1", calls)
	}
	if !l.Done() {
		t.Fatal("expected cursor to have advanced past the only request")
	}
}

func TestTwoRequestOrderingReversedRepliesBothFail(t *testing.T) {
	l := New(nil)
	var idCalls, statusCalls int
	l.AddResponse(17, func(p *modbus.Parser) error { idCalls++; return p.CheckCRC() }, 0x91, nil)
	l.AddResponse(18, func(p *modbus.Parser) error { statusCalls++; return p.CheckCRC() }, 0x92, nil)

	l.CallFunction(132, 17)
	l.CallFunction(140, 18)

	idReply := appendCRCFrame(t, []byte{132, 17})
	statusReply := appendCRCFrame(t, []byte{140, 18})

	// Correct order: both handlers fire.
	if err := l.Parse(idReply); err != nil {
		t.Fatal(err)
	}
	if err := l.Parse(statusReply); err != nil {
		t.Fatal(err)
	}
	if idCalls != 1 || statusCalls != 1 {
		t.Fatalf("idCalls=%d statusCalls=%d, want 1,1", idCalls, statusCalls)
	}

	// Reversed order on a fresh list: first parse is WrongResponse, cursor
	// advances, second parse is also WrongResponse, no handler fires.
	l2 := New(nil)
	idCalls, statusCalls = 0, 0
	l2.AddResponse(17, func(p *modbus.Parser) error { idCalls++; return p.CheckCRC() }, 0x91, nil)
	l2.AddResponse(18, func(p *modbus.Parser) error { statusCalls++; return p.CheckCRC() }, 0x92, nil)
	l2.CallFunction(132, 17)
	l2.CallFunction(140, 18)

	var wrong1 *modbus.WrongResponse
	if err := l2.Parse(statusReply); !errors.As(err, &wrong1) {
		t.Fatalf("expected WrongResponse, got %v", err)
	}
	var wrong2 *modbus.WrongResponse
	if err := l2.Parse(idReply); !errors.As(err, &wrong2) {
		t.Fatalf("expected WrongResponse, got %v", err)
	}
	if idCalls != 0 || statusCalls != 0 {
		t.Fatalf("idCalls=%d statusCalls=%d, want 0,0 (no handler should fire)", idCalls, statusCalls)
	}
	if !l2.Done() {
		t.Fatal("expected cursor to have advanced past both requests")
	}
}

func TestErrorReplyWithoutHandlerRaisesErrorResponse(t *testing.T) {
	l := New(nil)
	l.AddResponse(0x11, func(p *modbus.Parser) error { return p.CheckCRC() }, 0x91, nil)
	l.CallFunction(5, 0x11)

	errReply := appendCRCFrame(t, []byte{5, 0x91, 0x02})
	var errResp *modbus.ErrorResponse
	if err := l.Parse(errReply); !errors.As(err, &errResp) {
		t.Fatalf("expected ErrorResponse, got %v", err)
	}
	if errResp.Code != 0x02 {
		t.Fatalf("Code = %#02x, want 0x02", errResp.Code)
	}

	rec := l.ErrorRecord(5)
	if rec == nil || rec.Count != 1 || rec.LastCode != 0x02 {
		t.Fatalf("unexpected error record: %+v", rec)
	}
}

func TestErrorReplyWithHandlerInvokesOnError(t *testing.T) {
	l := New(nil)
	var gotCode byte
	l.AddResponse(0x11, func(p *modbus.Parser) error { return p.CheckCRC() }, 0x91, func(code byte) error {
		gotCode = code
		return nil
	})
	l.CallFunction(5, 0x11)

	errReply := appendCRCFrame(t, []byte{5, 0x91, 0x07})
	if err := l.Parse(errReply); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if gotCode != 0x07 {
		t.Fatalf("gotCode = %#02x, want 0x07", gotCode)
	}
}

func TestAddResponseRejectsDuplicateFunction(t *testing.T) {
	l := New(nil)
	if err := l.AddResponse(1, nil, 0x81, nil); err != nil {
		t.Fatal(err)
	}
	var dup *DuplicateHandler
	if err := l.AddResponse(1, nil, 0x81, nil); !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateHandler, got %v", err)
	}
}

func TestResetRewindsCursorClearEmptiesList(t *testing.T) {
	l := New(nil)
	l.AddResponse(1, func(p *modbus.Parser) error { return p.CheckCRC() }, 0x81, nil)
	l.CallFunction(1, 1)
	reply := appendCRCFrame(t, []byte{1, 1})
	if err := l.Parse(reply); err != nil {
		t.Fatal(err)
	}
	l.Reset()
	if l.Cursor() != 0 {
		t.Fatalf("Cursor = %d after Reset, want 0", l.Cursor())
	}
	if len(l.Requests()) != 1 {
		t.Fatal("Reset should not discard requests")
	}

	l.Clear()
	l.Clear() // second call is a no-op
	if len(l.Requests()) != 0 || l.Cursor() != 0 {
		t.Fatal("Clear should empty the request list and cursor")
	}
}

func TestErrorSuppressionOnlyLogsOnTransition(t *testing.T) {
	l := New(nil)
	l.AddResponse(0x11, func(p *modbus.Parser) error { return p.CheckCRC() }, 0x91, func(byte) error { return nil })
	for i := 0; i < 3; i++ {
		l.CallFunction(9, 0x11)
		reply := appendCRCFrame(t, []byte{9, 0x91, 0x04})
		if err := l.Parse(reply); err != nil {
			t.Fatal(err)
		}
	}
	rec := l.ErrorRecord(9)
	if rec.Count != 3 {
		t.Fatalf("Count = %d, want 3 (repeated identical errors still counted)", rec.Count)
	}
}
