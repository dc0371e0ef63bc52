package ilcbus

import (
	"testing"

	"github.com/lsst-ts/crio-ilcbus/modbus"
)

type recordingElectromechanicalHandler struct {
	NoopElectromechanicalHandler
	forceStatus *HardpointForceStatus
	faStatus    *FAStatus
}

func (h *recordingElectromechanicalHandler) ProcessHardpointForceStatus(addr byte, v HardpointForceStatus) error {
	h.forceStatus = &v
	return nil
}

func (h *recordingElectromechanicalHandler) ProcessFAStatus(addr byte, v FAStatus) error {
	h.faStatus = &v
	return nil
}

func TestReportHardpointForceStatusDecodesReply(t *testing.T) {
	h := &recordingElectromechanicalHandler{}
	e := NewElectromechanical(nil, h)

	if err := e.ReportHardpointForceStatus(9); err != nil {
		t.Fatal(err)
	}

	buf := modbus.NewBuffer()
	buf.WriteU8(9)
	buf.WriteU8(FuncHardpointForceStatus)
	buf.WriteU8(1)
	buf.WriteI32(-1000)
	buf.WriteF32(12.5)
	buf.WriteCRC()

	if err := e.Parse(buf.Bytes()); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if h.forceStatus == nil {
		t.Fatal("handler was not invoked")
	}
	if h.forceStatus.Status != 1 || h.forceStatus.Encoder != -1000 || h.forceStatus.Force != 12.5 {
		t.Fatalf("got %+v", h.forceStatus)
	}
}

// TestFAStatusSAAHasNoSecondary exercises the default single-axis path: no
// SetDualAxis call means the reply is read as a 9-byte SAA frame.
func TestFAStatusSAAHasNoSecondary(t *testing.T) {
	h := &recordingElectromechanicalHandler{}
	e := NewElectromechanical(nil, h)

	if err := e.ReportFAStatus(4); err != nil {
		t.Fatal(err)
	}

	buf := modbus.NewBuffer()
	buf.WriteU8(4)
	buf.WriteU8(FuncReportFAStatus)
	buf.WriteU8(0)
	buf.WriteF32(3.5)
	buf.WriteCRC()

	if err := e.Parse(buf.Bytes()); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if h.faStatus == nil {
		t.Fatal("handler was not invoked")
	}
	if h.faStatus.Secondary != nil {
		t.Fatalf("Secondary = %v, want nil for SAA", *h.faStatus.Secondary)
	}
	if h.faStatus.Primary != 3.5 {
		t.Fatalf("Primary = %v, want 3.5", h.faStatus.Primary)
	}
}

// TestFAStatusDAAHasSecondary exercises SetDualAxis: the reply is read as a
// 13-byte DAA frame with a trailing secondary float.
func TestFAStatusDAAHasSecondary(t *testing.T) {
	h := &recordingElectromechanicalHandler{}
	e := NewElectromechanical(nil, h)
	e.SetDualAxis(4, true)

	if err := e.ReportFAStatus(4); err != nil {
		t.Fatal(err)
	}

	buf := modbus.NewBuffer()
	buf.WriteU8(4)
	buf.WriteU8(FuncReportFAStatus)
	buf.WriteU8(0)
	buf.WriteF32(3.5)
	buf.WriteF32(7.25)
	buf.WriteCRC()

	if err := e.Parse(buf.Bytes()); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if h.faStatus == nil {
		t.Fatal("handler was not invoked")
	}
	if h.faStatus.Secondary == nil || *h.faStatus.Secondary != 7.25 {
		t.Fatalf("Secondary = %v, want 7.25", h.faStatus.Secondary)
	}
}

func TestForceOffsetRawNewtonsRoundTrip(t *testing.T) {
	raw := ForceOffsetNewtonsToRaw(2.5)
	got := ForceOffsetRawToNewtons(raw)
	if got < 2.4999 || got > 2.5001 {
		t.Fatalf("round trip = %v, want ~2.5", got)
	}
}

func TestElectromechanicalResponseLengthVariesWithAxisCount(t *testing.T) {
	e := NewElectromechanical(nil, nil)
	e.SetDualAxis(4, true)

	if err := e.SetForceOffsetDAA(4, SlewDisabled, 0, 0); err != nil {
		t.Fatal(err)
	}
	req, ok := e.Pending()
	if !ok {
		t.Fatal("expected a pending request")
	}
	if got := e.responseLength(nil, req); got != 2+1+4*2+2 {
		t.Fatalf("responseLength(DAA) = %d, want %d", got, 2+1+4*2+2)
	}
}

func TestElectromechanicalResponseLengthErrorReplyIsFive(t *testing.T) {
	e := NewElectromechanical(nil, nil)
	if got := e.responseLength([]byte{4, FuncReportFAStatus | errorMask}, nil); got != 5 {
		t.Fatalf("responseLength(error) = %d, want 5", got)
	}
}
