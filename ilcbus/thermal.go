package ilcbus

import (
	"time"

	"go.uber.org/zap"

	"github.com/lsst-ts/crio-ilcbus/buslist"
	"github.com/lsst-ts/crio-ilcbus/modbus"
)

// Thermal ILC function codes (§4.6). Function 88 is both the unicast
// "set thermal demand" request and, sent to AddrThermalGroupBroadcast, the
// broadcast demand for an entire group of thermal ILCs; both the unicast
// reply and the function-89 status reply mirror the same ThermalStatus
// shape.
const (
	FuncSetThermalDemand    = 88
	FuncReportThermalStatus = 89
	FuncReportReheaterGains = 93

	// AddrThermalGroupBroadcast is the reserved group address (§6) that
	// BroadcastThermalDemand targets.
	AddrThermalGroupBroadcast = 0xFA
)

// ThermalStatus decodes the reply to functions 88 and 89.
type ThermalStatus struct {
	Status                  byte
	DifferentialTemperature float32
	FanRPM                  byte
	AbsoluteTemperature     float32
}

// ReheaterGains decodes function 93.
type ReheaterGains struct {
	ProportionalGain float32
	IntegralGain     float32
}

// ThermalHandler extends the standard ILC Handler with the thermal function
// callbacks.
type ThermalHandler interface {
	Handler
	ProcessThermalStatus(addr byte, v ThermalStatus) error
	ProcessReheaterGains(addr byte, v ReheaterGains) error
}

// NoopThermalHandler implements ThermalHandler with no-op methods.
type NoopThermalHandler struct{ NoopHandler }

func (NoopThermalHandler) ProcessThermalStatus(byte, ThermalStatus) error { return nil }
func (NoopThermalHandler) ProcessReheaterGains(byte, ReheaterGains) error { return nil }

// ThermalList is the thermal ILC Bus List.
type ThermalList struct {
	*List
	handler ThermalHandler
}

// NewThermal constructs a ThermalList, registering the standard ILC
// functions plus the thermal set.
func NewThermal(logger *zap.Logger, handler ThermalHandler) *ThermalList {
	if handler == nil {
		handler = NoopThermalHandler{}
	}
	t := &ThermalList{
		List:    New(logger, handler),
		handler: handler,
	}
	t.registerHandlers()
	t.SetResponseLength(t.responseLength)
	return t
}

func (t *ThermalList) registerHandlers() {
	t.AddResponse(FuncSetThermalDemand, t.onThermalStatus, FuncSetThermalDemand|errorMask, nil)
	t.AddResponse(FuncReportThermalStatus, t.onThermalStatus, FuncReportThermalStatus|errorMask, nil)
	t.AddResponse(FuncReportReheaterGains, t.onReheaterGains, FuncReportReheaterGains|errorMask, nil)
}

func (t *ThermalList) onThermalStatus(p *modbus.Parser) error {
	addr := p.Address()
	status, err := p.ReadU8()
	if err != nil {
		return err
	}
	diff, err := p.ReadF32()
	if err != nil {
		return err
	}
	fanRPM, err := p.ReadU8()
	if err != nil {
		return err
	}
	abs, err := p.ReadF32()
	if err != nil {
		return err
	}
	if err := p.CheckCRC(); err != nil {
		return err
	}
	return t.handler.ProcessThermalStatus(addr, ThermalStatus{
		Status:                  status,
		DifferentialTemperature: diff,
		FanRPM:                  fanRPM,
		AbsoluteTemperature:     abs,
	})
}

// SetThermalDemand enqueues a unicast function-88 request driving addr's
// heater and fan to the given demand; the reply mirrors ReportThermalStatus.
func (t *ThermalList) SetThermalDemand(addr byte, heaterPWM, fanRPM byte) error {
	_, err := t.CallFunction(addr, FuncSetThermalDemand, heaterPWM, fanRPM)
	return err
}

// ReportThermalStatus enqueues a function-89 request.
func (t *ThermalList) ReportThermalStatus(addr byte) error {
	_, err := t.CallFunction(addr, FuncReportThermalStatus)
	return err
}

func (t *ThermalList) onReheaterGains(p *modbus.Parser) error {
	addr := p.Address()
	kp, err := p.ReadF32()
	if err != nil {
		return err
	}
	ki, err := p.ReadF32()
	if err != nil {
		return err
	}
	if err := p.CheckCRC(); err != nil {
		return err
	}
	return t.handler.ProcessReheaterGains(addr, ReheaterGains{ProportionalGain: kp, IntegralGain: ki})
}

// ReportReheaterGains enqueues a function-93 request.
func (t *ThermalList) ReportReheaterGains(addr byte) error {
	_, err := t.CallFunction(addr, FuncReportReheaterGains)
	return err
}

// BroadcastThermalDemand drives every ILC in a thermal group to a common
// demand in one frame: heaterPWM and fanRPM must be the same length (one
// entry per ILC in the group) and are interleaved as
// heaterPWM[0], fanRPM[0], heaterPWM[1], fanRPM[1], ... following the
// rolling broadcast counter. quiet is how long the Transport should hold
// the bus silent afterwards. No reply is produced or consumed.
func (t *ThermalList) BroadcastThermalDemand(heaterPWM, fanRPM []byte, quiet time.Duration) error {
	if len(heaterPWM) != len(fanRPM) {
		return &InvalidLength{Length: len(fanRPM)}
	}
	params := make([]byte, 0, 2*len(heaterPWM))
	for i := range heaterPWM {
		params = append(params, heaterPWM[i], fanRPM[i])
	}
	return t.BroadcastFunction(AddrThermalGroupBroadcast, FuncSetThermalDemand, quiet, params)
}

func (t *ThermalList) responseLength(partial []byte, pending *buslist.Request) int {
	if len(partial) >= 2 && partial[1]&errorMask != 0 {
		return 5
	}
	switch pending.Function {
	case FuncSetThermalDemand, FuncReportThermalStatus:
		return 2 + 1 + 4 + 1 + 4 + 2
	case FuncReportReheaterGains:
		return 2 + 4 + 4 + 2
	default:
		return t.ResponseLengthDefault(partial)
	}
}
