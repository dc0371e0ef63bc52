package ilcbus

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/lsst-ts/crio-ilcbus/buslist"
	"github.com/lsst-ts/crio-ilcbus/modbus"
)

// FuncSensorData is the sensor monitor ILC function code (§4.6): a
// variable-length array of f32 channel readings.
const FuncSensorData = 84

// InvalidLength is raised when a function-84 reply's payload length is not
// a multiple of 4 (one f32 per channel), and by BroadcastThermalDemand when
// its heaterPWM and fanRPM slices differ in length.
type InvalidLength struct{ Length int }

func (e *InvalidLength) Error() string {
	return fmt.Sprintf("ilcbus: invalid payload length %d", e.Length)
}

// SensorData decodes function 84: one reading per configured channel.
type SensorData struct {
	Channels []float32
}

// SensorHandler extends the standard ILC Handler with the sensor-monitor
// function callback.
type SensorHandler interface {
	Handler
	ProcessSensorData(addr byte, v SensorData) error
}

// NoopSensorHandler implements SensorHandler with no-op methods.
type NoopSensorHandler struct{ NoopHandler }

func (NoopSensorHandler) ProcessSensorData(byte, SensorData) error { return nil }

// SensorList is the sensor monitor ILC Bus List.
type SensorList struct {
	*List
	handler SensorHandler
}

// NewSensor constructs a SensorList, registering the standard ILC functions
// plus the sensor monitor function.
func NewSensor(logger *zap.Logger, handler SensorHandler) *SensorList {
	if handler == nil {
		handler = NoopSensorHandler{}
	}
	s := &SensorList{
		List:    New(logger, handler),
		handler: handler,
	}
	s.AddResponse(FuncSensorData, s.onSensorData, FuncSensorData|errorMask, nil)
	s.SetResponseLength(s.responseLength)
	return s
}

func (s *SensorList) onSensorData(p *modbus.Parser) error {
	addr := p.Address()
	n := p.Remaining() - 2 // payload bytes excluding the trailing CRC
	if n < 0 || n%4 != 0 {
		return &InvalidLength{Length: n}
	}
	channels := make([]float32, n/4)
	for i := range channels {
		v, err := p.ReadF32()
		if err != nil {
			return err
		}
		channels[i] = v
	}
	if err := p.CheckCRC(); err != nil {
		return err
	}
	return s.handler.ProcessSensorData(addr, SensorData{Channels: channels})
}

// ReportSensorData enqueues a function-84 request.
func (s *SensorList) ReportSensorData(addr byte) error {
	_, err := s.CallFunction(addr, FuncSensorData)
	return err
}

func (s *SensorList) responseLength(partial []byte, pending *buslist.Request) int {
	if len(partial) >= 2 && partial[1]&errorMask != 0 {
		return 5
	}
	if pending.Function == FuncSensorData {
		return -1 // variable channel count; the Transport reads until its deadline
	}
	return s.ResponseLengthDefault(partial)
}
