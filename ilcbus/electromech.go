package ilcbus

import (
	"go.uber.org/zap"

	"github.com/lsst-ts/crio-ilcbus/buslist"
	"github.com/lsst-ts/crio-ilcbus/modbus"
)

// Electromechanical/pneumatic ILC function codes (§4.6).
const (
	FuncHardpointForceStatus = 67
	FuncSetDCAGain           = 73
	FuncReportDCAGain        = 74
	FuncSetForceOffset       = 75
	FuncReportFAStatus       = 76
	FuncSetADCOffsetSens     = 81
	FuncReportCalibration    = 110
	FuncMezzaninePressure    = 119
	FuncHardpointLVDT        = 122
)

// HardpointForceStatus decodes function 67.
type HardpointForceStatus struct {
	Status  byte
	Encoder int32
	Force   float32
}

// DCAGain decodes function 74.
type DCAGain struct {
	Primary, Secondary float32
}

// ForceOffset decodes the reply to function 75. Secondary is nil for a
// single-axis (SAA) actuator.
type ForceOffset struct {
	Status    byte
	Primary   float32
	Secondary *float32
}

// FAStatus decodes function 76. Secondary is nil for a single-axis (SAA)
// actuator (9-byte reply); present for dual-axis (DAA, 13-byte reply).
type FAStatus struct {
	Status    byte
	Primary   float32
	Secondary *float32
}

// Calibration decodes function 110: six named 4-element calibration curves.
type Calibration struct {
	MainADCK     [4]float32
	MainOffset   [4]float32
	MainSens     [4]float32
	BackupADCK   [4]float32
	BackupOffset [4]float32
	BackupSens   [4]float32
}

// MezzaninePressure decodes function 119.
type MezzaninePressure struct {
	PushPrimary, PullPrimary, PullSecondary, PushSecondary float32
}

// HardpointLVDT decodes function 122.
type HardpointLVDT struct {
	Breakaway, Displacement float32
}

// ForceOffsetRawToNewtons converts the wire encoding (micronewtons,
// multiplied by 1000) of a function-75 request field into newtons.
func ForceOffsetRawToNewtons(raw modbus.Int24) float64 {
	return float64(raw) / 1000.0 / 1e6
}

// ForceOffsetNewtonsToRaw is the inverse of ForceOffsetRawToNewtons.
func ForceOffsetNewtonsToRaw(newtons float64) modbus.Int24 {
	return modbus.Int24(newtons * 1e6 * 1000.0)
}

// Slew flag values for function 75.
const (
	SlewDisabled byte = 0x00
	SlewEnabled  byte = 0xFF
)

// ElectromechanicalHandler extends the standard ILC Handler with the
// electromechanical/pneumatic function callbacks.
type ElectromechanicalHandler interface {
	Handler
	ProcessHardpointForceStatus(addr byte, v HardpointForceStatus) error
	ProcessDCAGainSet(addr byte) error
	ProcessDCAGain(addr byte, v DCAGain) error
	ProcessForceOffset(addr byte, v ForceOffset) error
	ProcessFAStatus(addr byte, v FAStatus) error
	ProcessADCOffsetSet(addr byte) error
	ProcessCalibration(addr byte, v Calibration) error
	ProcessMezzaninePressure(addr byte, v MezzaninePressure) error
	ProcessHardpointLVDT(addr byte, v HardpointLVDT) error
}

// NoopElectromechanicalHandler implements ElectromechanicalHandler with
// no-op methods.
type NoopElectromechanicalHandler struct{ NoopHandler }

func (NoopElectromechanicalHandler) ProcessHardpointForceStatus(byte, HardpointForceStatus) error {
	return nil
}
func (NoopElectromechanicalHandler) ProcessDCAGainSet(byte) error               { return nil }
func (NoopElectromechanicalHandler) ProcessDCAGain(byte, DCAGain) error         { return nil }
func (NoopElectromechanicalHandler) ProcessForceOffset(byte, ForceOffset) error { return nil }
func (NoopElectromechanicalHandler) ProcessFAStatus(byte, FAStatus) error       { return nil }
func (NoopElectromechanicalHandler) ProcessADCOffsetSet(byte) error             { return nil }
func (NoopElectromechanicalHandler) ProcessCalibration(byte, Calibration) error { return nil }
func (NoopElectromechanicalHandler) ProcessMezzaninePressure(byte, MezzaninePressure) error {
	return nil
}
func (NoopElectromechanicalHandler) ProcessHardpointLVDT(byte, HardpointLVDT) error { return nil }

// ElectromechanicalList is the electromechanical/pneumatic ILC Bus List. It
// additionally tracks, per address, whether the attached actuator is
// single-axis (SAA) or dual-axis (DAA): functions 75 and 76 reply with a
// trailing secondary float only for DAA actuators, and the Transport needs
// that fact up front to size its read.
type ElectromechanicalList struct {
	*List
	handler ElectromechanicalHandler
	axes    map[byte]int // addr -> 1 (SAA, default) or 2 (DAA)
}

// NewElectromechanical constructs an ElectromechanicalList, registering the
// standard ILC functions plus the electromechanical/pneumatic set.
func NewElectromechanical(logger *zap.Logger, handler ElectromechanicalHandler) *ElectromechanicalList {
	if handler == nil {
		handler = NoopElectromechanicalHandler{}
	}
	e := &ElectromechanicalList{
		List:    New(logger, handler),
		handler: handler,
		axes:    map[byte]int{},
	}
	e.registerHandlers()
	e.SetResponseLength(e.responseLength)
	return e
}

// SetDualAxis records that addr is a dual-axis (DAA) actuator; single-axis
// (SAA) is the default for any address not configured here.
func (e *ElectromechanicalList) SetDualAxis(addr byte, dual bool) {
	if dual {
		e.axes[addr] = 2
	} else {
		e.axes[addr] = 1
	}
}

func (e *ElectromechanicalList) axisCount(addr byte) int {
	if n, ok := e.axes[addr]; ok {
		return n
	}
	return 1
}

func (e *ElectromechanicalList) registerHandlers() {
	e.AddResponse(FuncHardpointForceStatus, e.onHardpointForceStatus, FuncHardpointForceStatus|errorMask, nil)
	e.AddResponse(FuncSetDCAGain, e.onDCAGainSet, FuncSetDCAGain|errorMask, nil)
	e.AddResponse(FuncReportDCAGain, e.onDCAGain, FuncReportDCAGain|errorMask, nil)
	e.AddResponse(FuncSetForceOffset, e.onForceOffset, FuncSetForceOffset|errorMask, nil)
	e.AddResponse(FuncReportFAStatus, e.onFAStatus, FuncReportFAStatus|errorMask, nil)
	e.AddResponse(FuncSetADCOffsetSens, e.onADCOffsetSet, FuncSetADCOffsetSens|errorMask, nil)
	e.AddResponse(FuncReportCalibration, e.onCalibration, FuncReportCalibration|errorMask, nil)
	e.AddResponse(FuncMezzaninePressure, e.onMezzaninePressure, FuncMezzaninePressure|errorMask, nil)
	e.AddResponse(FuncHardpointLVDT, e.onHardpointLVDT, FuncHardpointLVDT|errorMask, nil)
}

func (e *ElectromechanicalList) onHardpointForceStatus(p *modbus.Parser) error {
	addr := p.Address()
	status, err := p.ReadU8()
	if err != nil {
		return err
	}
	encoder, err := p.ReadI32()
	if err != nil {
		return err
	}
	force, err := p.ReadF32()
	if err != nil {
		return err
	}
	if err := p.CheckCRC(); err != nil {
		return err
	}
	return e.handler.ProcessHardpointForceStatus(addr, HardpointForceStatus{Status: status, Encoder: encoder, Force: force})
}

// ReportHardpointForceStatus enqueues a function-67 request.
func (e *ElectromechanicalList) ReportHardpointForceStatus(addr byte) error {
	_, err := e.CallFunction(addr, FuncHardpointForceStatus)
	return err
}

func (e *ElectromechanicalList) onDCAGainSet(p *modbus.Parser) error {
	addr := p.Address()
	if err := p.CheckCRC(); err != nil {
		return err
	}
	return e.handler.ProcessDCAGainSet(addr)
}

// SetDCAGain enqueues a function-73 request.
func (e *ElectromechanicalList) SetDCAGain(addr byte, primary, secondary float32) error {
	_, err := e.CallFunction(addr, FuncSetDCAGain, primary, secondary)
	return err
}

func (e *ElectromechanicalList) onDCAGain(p *modbus.Parser) error {
	addr := p.Address()
	primary, err := p.ReadF32()
	if err != nil {
		return err
	}
	secondary, err := p.ReadF32()
	if err != nil {
		return err
	}
	if err := p.CheckCRC(); err != nil {
		return err
	}
	return e.handler.ProcessDCAGain(addr, DCAGain{Primary: primary, Secondary: secondary})
}

// ReportDCAGain enqueues a function-74 request.
func (e *ElectromechanicalList) ReportDCAGain(addr byte) error {
	_, err := e.CallFunction(addr, FuncReportDCAGain)
	return err
}

// SetForceOffsetSAA enqueues a single-axis function-75 request.
func (e *ElectromechanicalList) SetForceOffsetSAA(addr byte, slew byte, primary modbus.Int24) error {
	e.SetDualAxis(addr, false)
	_, err := e.CallFunction(addr, FuncSetForceOffset, slew, primary)
	return err
}

// SetForceOffsetDAA enqueues a dual-axis function-75 request.
func (e *ElectromechanicalList) SetForceOffsetDAA(addr byte, slew byte, primary, secondary modbus.Int24) error {
	e.SetDualAxis(addr, true)
	_, err := e.CallFunction(addr, FuncSetForceOffset, slew, primary, secondary)
	return err
}

func (e *ElectromechanicalList) onForceOffset(p *modbus.Parser) error {
	addr := p.Address()
	status, err := p.ReadU8()
	if err != nil {
		return err
	}
	primary, err := p.ReadF32()
	if err != nil {
		return err
	}
	var secondary *float32
	if e.axisCount(addr) == 2 {
		s, err := p.ReadF32()
		if err != nil {
			return err
		}
		secondary = &s
	}
	if err := p.CheckCRC(); err != nil {
		return err
	}
	return e.handler.ProcessForceOffset(addr, ForceOffset{Status: status, Primary: primary, Secondary: secondary})
}

func (e *ElectromechanicalList) onFAStatus(p *modbus.Parser) error {
	addr := p.Address()
	status, err := p.ReadU8()
	if err != nil {
		return err
	}
	primary, err := p.ReadF32()
	if err != nil {
		return err
	}
	var secondary *float32
	if e.axisCount(addr) == 2 {
		s, err := p.ReadF32()
		if err != nil {
			return err
		}
		secondary = &s
	}
	if err := p.CheckCRC(); err != nil {
		return err
	}
	return e.handler.ProcessFAStatus(addr, FAStatus{Status: status, Primary: primary, Secondary: secondary})
}

// ReportFAStatus enqueues a function-76 request.
func (e *ElectromechanicalList) ReportFAStatus(addr byte) error {
	_, err := e.CallFunction(addr, FuncReportFAStatus)
	return err
}

func (e *ElectromechanicalList) onADCOffsetSet(p *modbus.Parser) error {
	addr := p.Address()
	if err := p.CheckCRC(); err != nil {
		return err
	}
	return e.handler.ProcessADCOffsetSet(addr)
}

// SetADCOffsetSens enqueues a function-81 request.
func (e *ElectromechanicalList) SetADCOffsetSens(addr byte, channel byte, offset, sens float32) error {
	_, err := e.CallFunction(addr, FuncSetADCOffsetSens, channel, offset, sens)
	return err
}

func (e *ElectromechanicalList) onCalibration(p *modbus.Parser) error {
	addr := p.Address()
	var c Calibration
	for _, dst := range []*[4]float32{&c.MainADCK, &c.MainOffset, &c.MainSens, &c.BackupADCK, &c.BackupOffset, &c.BackupSens} {
		for i := 0; i < 4; i++ {
			v, err := p.ReadF32()
			if err != nil {
				return err
			}
			dst[i] = v
		}
	}
	if err := p.CheckCRC(); err != nil {
		return err
	}
	return e.handler.ProcessCalibration(addr, c)
}

// ReportCalibration enqueues a function-110 request.
func (e *ElectromechanicalList) ReportCalibration(addr byte) error {
	_, err := e.CallFunction(addr, FuncReportCalibration)
	return err
}

func (e *ElectromechanicalList) onMezzaninePressure(p *modbus.Parser) error {
	addr := p.Address()
	pushPrim, err := p.ReadF32()
	if err != nil {
		return err
	}
	pullPrim, err := p.ReadF32()
	if err != nil {
		return err
	}
	pullSec, err := p.ReadF32()
	if err != nil {
		return err
	}
	pushSec, err := p.ReadF32()
	if err != nil {
		return err
	}
	if err := p.CheckCRC(); err != nil {
		return err
	}
	return e.handler.ProcessMezzaninePressure(addr, MezzaninePressure{
		PushPrimary: pushPrim, PullPrimary: pullPrim, PullSecondary: pullSec, PushSecondary: pushSec,
	})
}

// ReportMezzaninePressure enqueues a function-119 request.
func (e *ElectromechanicalList) ReportMezzaninePressure(addr byte) error {
	_, err := e.CallFunction(addr, FuncMezzaninePressure)
	return err
}

func (e *ElectromechanicalList) onHardpointLVDT(p *modbus.Parser) error {
	addr := p.Address()
	breakaway, err := p.ReadF32()
	if err != nil {
		return err
	}
	displacement, err := p.ReadF32()
	if err != nil {
		return err
	}
	if err := p.CheckCRC(); err != nil {
		return err
	}
	return e.handler.ProcessHardpointLVDT(addr, HardpointLVDT{Breakaway: breakaway, Displacement: displacement})
}

// ReportHardpointLVDT enqueues a function-122 request.
func (e *ElectromechanicalList) ReportHardpointLVDT(addr byte) error {
	_, err := e.CallFunction(addr, FuncHardpointLVDT)
	return err
}

// responseLength extends ResponseLengthDefault with the
// variable-by-actuator-type electromechanical replies.
func (e *ElectromechanicalList) responseLength(partial []byte, pending *buslist.Request) int {
	if len(partial) >= 2 && partial[1]&errorMask != 0 {
		return 5
	}
	switch pending.Function {
	case FuncHardpointForceStatus:
		return 2 + 1 + 4 + 4 + 2
	case FuncSetDCAGain, FuncSetADCOffsetSens:
		return 2 + 2
	case FuncReportDCAGain:
		return 2 + 4 + 4 + 2
	case FuncSetForceOffset, FuncReportFAStatus:
		return 2 + 1 + 4*e.axisCount(pending.Addr) + 2
	case FuncReportCalibration:
		return 2 + 4*4*6 + 2
	case FuncMezzaninePressure:
		return 2 + 4*4 + 2
	case FuncHardpointLVDT:
		return 2 + 4*2 + 2
	default:
		return e.ResponseLengthDefault(partial)
	}
}
