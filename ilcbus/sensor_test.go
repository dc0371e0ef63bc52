package ilcbus

import (
	"testing"

	"github.com/lsst-ts/crio-ilcbus/modbus"
)

type recordingSensorHandler struct {
	NoopSensorHandler
	addr byte
	got  SensorData
}

func (h *recordingSensorHandler) ProcessSensorData(addr byte, v SensorData) error {
	h.addr = addr
	h.got = v
	return nil
}

func sensorReplyFrame(t *testing.T, addr byte, channels []float32) []byte {
	t.Helper()
	buf := modbus.NewBuffer()
	buf.WriteU8(addr)
	buf.WriteU8(FuncSensorData)
	for _, c := range channels {
		buf.WriteF32(c)
	}
	buf.WriteCRC()
	return buf.Bytes()
}

func TestReportSensorDataDecodesChannels(t *testing.T) {
	h := &recordingSensorHandler{}
	s := NewSensor(nil, h)

	if err := s.ReportSensorData(17); err != nil {
		t.Fatal(err)
	}

	want := []float32{1.5, -2.25, 3.0}
	reply := sensorReplyFrame(t, 17, want)
	if err := s.Parse(reply); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if h.addr != 17 {
		t.Fatalf("addr = %d, want 17", h.addr)
	}
	if len(h.got.Channels) != len(want) {
		t.Fatalf("got %d channels, want %d", len(h.got.Channels), len(want))
	}
	for i := range want {
		if h.got.Channels[i] != want[i] {
			t.Fatalf("channel %d = %v, want %v", i, h.got.Channels[i], want[i])
		}
	}
}

func TestSensorDataInvalidLength(t *testing.T) {
	h := &recordingSensorHandler{}
	s := NewSensor(nil, h)
	if err := s.ReportSensorData(17); err != nil {
		t.Fatal(err)
	}

	buf := modbus.NewBuffer()
	buf.WriteU8(17)
	buf.WriteU8(FuncSensorData)
	buf.WriteU8(0x01) // 1 odd byte: not a multiple of 4
	buf.WriteCRC()

	err := s.Parse(buf.Bytes())
	if err == nil {
		t.Fatal("expected InvalidLength error")
	}
	if _, ok := err.(*InvalidLength); !ok {
		t.Fatalf("got %T, want *InvalidLength", err)
	}
}

func TestSensorResponseLengthVariable(t *testing.T) {
	s := NewSensor(nil, nil)
	if err := s.ReportSensorData(5); err != nil {
		t.Fatal(err)
	}
	req, ok := s.Pending()
	if !ok {
		t.Fatal("expected a pending request")
	}
	if got := s.responseLength(nil, req); got != -1 {
		t.Fatalf("responseLength = %d, want -1 (variable)", got)
	}
}

func TestSensorResponseLengthErrorReplyIsFive(t *testing.T) {
	s := NewSensor(nil, nil)
	if got := s.responseLength([]byte{5, FuncSensorData | errorMask}, nil); got != 5 {
		t.Fatalf("responseLength(error) = %d, want 5", got)
	}
}
