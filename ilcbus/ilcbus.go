// Package ilcbus implements the standard ILC (Inner-Loop Controller)
// function set on top of a Bus List: identify, status, mode change, reset,
// and temporary addressing (§4.5), plus mode/fault/status string decoding.
// Domain Bus Lists (electromechanical, thermal, sensor monitor) embed List
// and add their own functions on top.
package ilcbus

import (
	"time"

	"go.uber.org/zap"

	"github.com/lsst-ts/crio-ilcbus/buslist"
	"github.com/lsst-ts/crio-ilcbus/modbus"
)

// Standard ILC function codes (§4.5).
const (
	FuncServerID       = 17  // 0x11
	FuncServerStatus   = 18  // 0x12
	FuncChangeMode     = 65  // 0x41
	FuncSetTempAddress = 72  // 0x48
	FuncReset          = 107 // 0x6B
)

const errorMask = 0x80

// ChangeMode timeouts (§4.5): bootloader transitions take substantially
// longer than any other mode change.
const (
	ChangeModeTimeout           = 335 * time.Microsecond
	ChangeModeBootloaderTimeout = 100 * time.Millisecond
)

// Mode is the ILC's operating mode (§3). Bootloader is observed only in
// status replies; FirmwareUpdate is what a ChangeMode request into
// bootloader looks like from the host side.
type Mode uint8

const (
	ModeStandby Mode = iota
	ModeDisabled
	ModeEnabled
	ModeFirmwareUpdate
	ModeFault
	ModeClearFaults
	ModeBootloader
)

func (m Mode) String() string { return GetModeStr(m) }

// GetModeStr decodes a Mode to a human-readable string.
func GetModeStr(m Mode) string {
	switch m {
	case ModeStandby:
		return "Standby"
	case ModeDisabled:
		return "Disabled"
	case ModeEnabled:
		return "Enabled"
	case ModeFirmwareUpdate:
		return "FirmwareUpdate"
	case ModeFault:
		return "Fault"
	case ModeClearFaults:
		return "ClearFaults"
	case ModeBootloader:
		return "Bootloader"
	default:
		return "Unknown"
	}
}

// Faults is the 16-bit ILC fault bitmask (§3).
type Faults uint16

const (
	FaultUniqueIDCRC   Faults = 0x0001
	FaultAppType       Faults = 0x0002
	FaultNoILC         Faults = 0x0004
	FaultILCAppCRC     Faults = 0x0008
	FaultNoTEDS        Faults = 0x0010
	FaultTEDS1         Faults = 0x0020
	FaultTEDS2         Faults = 0x0040
	FaultWatchdogReset Faults = 0x0100
	FaultBrownOut      Faults = 0x0200
	FaultEventTrap     Faults = 0x0400
	FaultSSR           Faults = 0x1000
	FaultAUX           Faults = 0x2000
)

var faultNames = []struct {
	bit  Faults
	name string
}{
	{FaultUniqueIDCRC, "UniqueIDCRC"},
	{FaultAppType, "AppType"},
	{FaultNoILC, "NoILC"},
	{FaultILCAppCRC, "ILCAppCRC"},
	{FaultNoTEDS, "NoTEDS"},
	{FaultTEDS1, "TEDS1"},
	{FaultTEDS2, "TEDS2"},
	{FaultWatchdogReset, "WatchdogReset"},
	{FaultBrownOut, "BrownOut"},
	{FaultEventTrap, "EventTrap"},
	{FaultSSR, "SSR"},
	{FaultAUX, "AUX"},
}

// GetFaultStrings decodes every set bit of faults into its name. Domain Bus
// Lists extend the table by appending their own bits before calling this,
// via GetFaultStringsFrom.
func GetFaultStrings(faults Faults) []string {
	return GetFaultStringsFrom(faults, nil)
}

// GetFaultStringsFrom decodes faults using the standard table plus an
// extension table consulted first (so domain-specific bit reuse wins).
func GetFaultStringsFrom(faults Faults, extra []struct {
	Bit  Faults
	Name string
}) []string {
	var out []string
	remaining := faults
	for _, e := range extra {
		if remaining&e.Bit != 0 {
			out = append(out, e.Name)
			remaining &^= e.Bit
		}
	}
	for _, f := range faultNames {
		if remaining&f.bit != 0 {
			out = append(out, f.name)
		}
	}
	return out
}

// Status is the 16-bit ILC status bitmask (§3); domain-specific bits extend
// this list.
type Status uint16

const (
	StatusMajorFault    Status = 0x0001
	StatusMinorFault    Status = 0x0002
	StatusFaultOverride Status = 0x0008
)

var statusNames = []struct {
	bit  Status
	name string
}{
	{StatusMajorFault, "MajorFault"},
	{StatusMinorFault, "MinorFault"},
	{StatusFaultOverride, "FaultOverride"},
}

// GetStatusStrings decodes every recognised set bit of status into its
// name.
func GetStatusStrings(status Status) []string {
	return GetStatusStringsFrom(status, nil)
}

func GetStatusStringsFrom(status Status, extra []struct {
	Bit  Status
	Name string
}) []string {
	var out []string
	remaining := status
	for _, e := range extra {
		if remaining&e.Bit != 0 {
			out = append(out, e.Name)
			remaining &^= e.Bit
		}
	}
	for _, s := range statusNames {
		if remaining&s.bit != 0 {
			out = append(out, s.name)
		}
	}
	return out
}

// ServerID is the decoded reply to function 17 (ReportServerID).
type ServerID struct {
	UniqueID     uint64
	AppType      byte
	NodeType     byte
	SelectedOpts byte
	NodeOpts     byte
	MajorRev     byte
	MinorRev     byte
	FWName       string
}

// ServerStatus is the decoded reply to function 18 (ReportServerStatus).
type ServerStatus struct {
	Mode   Mode
	Status Status
	Faults Faults
}

// UnknownMode is raised by LastMode when no reply has ever been received
// for an address.
type UnknownMode struct{ Addr byte }

func (e *UnknownMode) Error() string { return "ilcbus: unknown mode (no status reply yet)" }

// Handler receives decoded ILC replies. Domain Bus Lists extend this with
// their own handler interfaces; List's zero-value NoopHandler is used when
// a caller doesn't care about a particular callback.
type Handler interface {
	ProcessServerID(addr byte, reply ServerID) error
	ProcessServerStatus(addr byte, reply ServerStatus) error
	ProcessChangeMode(addr byte, mode Mode) error
	ProcessSetTempAddress(addr byte, newAddr byte) error
	ProcessReset(addr byte) error
}

// NoopHandler implements Handler with no-op methods; embed it to satisfy
// the interface while overriding only the callbacks you need.
type NoopHandler struct{}

func (NoopHandler) ProcessServerID(byte, ServerID) error         { return nil }
func (NoopHandler) ProcessServerStatus(byte, ServerStatus) error { return nil }
func (NoopHandler) ProcessChangeMode(byte, Mode) error           { return nil }
func (NoopHandler) ProcessSetTempAddress(byte, byte) error       { return nil }
func (NoopHandler) ProcessReset(byte) error                      { return nil }

// List is the ILC Bus List: a Bus List with the five standard ILC
// functions registered at construction.
type List struct {
	*buslist.List

	handler Handler

	lastMode  map[byte]Mode
	broadcast uint8 // 4-bit rolling counter
}

// New constructs an ILC Bus List. handler may be nil, in which case decoded
// replies are discarded (NoopHandler semantics).
func New(logger *zap.Logger, handler Handler) *List {
	if handler == nil {
		handler = NoopHandler{}
	}
	l := &List{
		List:     buslist.New(logger),
		handler:  handler,
		lastMode: map[byte]Mode{},
	}
	l.registerStandardHandlers()
	l.SetResponseLength(func(partial []byte, _ *buslist.Request) int {
		return l.ResponseLengthDefault(partial)
	})
	return l
}

func (l *List) registerStandardHandlers() {
	l.AddResponse(FuncServerID, l.onServerID, FuncServerID|errorMask, nil)
	l.AddResponse(FuncServerStatus, l.onServerStatus, FuncServerStatus|errorMask, nil)
	l.AddResponse(FuncChangeMode, l.onChangeMode, FuncChangeMode|errorMask, nil)
	l.AddResponse(FuncSetTempAddress, l.onSetTempAddress, FuncSetTempAddress|errorMask, nil)
	l.AddResponse(FuncReset, l.onReset, FuncReset|errorMask, nil)
}

func (l *List) onServerID(p *modbus.Parser) error {
	addr := p.Address()
	length, err := p.ReadU8()
	if err != nil {
		return err
	}
	uid, err := p.ReadU48()
	if err != nil {
		return err
	}
	appType, err := p.ReadU8()
	if err != nil {
		return err
	}
	nodeType, err := p.ReadU8()
	if err != nil {
		return err
	}
	selOpts, err := p.ReadU8()
	if err != nil {
		return err
	}
	nodeOpts, err := p.ReadU8()
	if err != nil {
		return err
	}
	majorRev, err := p.ReadU8()
	if err != nil {
		return err
	}
	minorRev, err := p.ReadU8()
	if err != nil {
		return err
	}
	// length counts the bytes from uniqueID through fwName inclusive (12
	// fixed bytes of uid/appType/.../minorRev plus the name).
	nameLen := int(length) - 12
	if nameLen < 0 {
		nameLen = 0
	}
	name, err := p.ReadString(nameLen)
	if err != nil {
		return err
	}
	if err := p.CheckCRC(); err != nil {
		return err
	}
	return l.handler.ProcessServerID(addr, ServerID{
		UniqueID: uid, AppType: appType, NodeType: nodeType,
		SelectedOpts: selOpts, NodeOpts: nodeOpts,
		MajorRev: majorRev, MinorRev: minorRev, FWName: name,
	})
}

func (l *List) onServerStatus(p *modbus.Parser) error {
	addr := p.Address()
	mode, err := p.ReadU8()
	if err != nil {
		return err
	}
	status, err := p.ReadU16()
	if err != nil {
		return err
	}
	faults, err := p.ReadU16()
	if err != nil {
		return err
	}
	if err := p.CheckCRC(); err != nil {
		return err
	}
	l.lastMode[addr] = Mode(mode)
	return l.handler.ProcessServerStatus(addr, ServerStatus{
		Mode: Mode(mode), Status: Status(status), Faults: Faults(faults),
	})
}

func (l *List) onChangeMode(p *modbus.Parser) error {
	addr := p.Address()
	mode, err := p.ReadU16()
	if err != nil {
		return err
	}
	if err := p.CheckCRC(); err != nil {
		return err
	}
	l.lastMode[addr] = Mode(mode)
	return l.handler.ProcessChangeMode(addr, Mode(mode))
}

func (l *List) onSetTempAddress(p *modbus.Parser) error {
	addr := p.Address()
	newAddr, err := p.ReadU8()
	if err != nil {
		return err
	}
	if err := p.CheckCRC(); err != nil {
		return err
	}
	return l.handler.ProcessSetTempAddress(addr, newAddr)
}

func (l *List) onReset(p *modbus.Parser) error {
	addr := p.Address()
	if err := p.CheckCRC(); err != nil {
		return err
	}
	return l.handler.ProcessReset(addr)
}

// ReportServerID enqueues a function-17 request.
func (l *List) ReportServerID(addr byte) error {
	_, err := l.CallFunction(addr, FuncServerID)
	return err
}

// ReportServerStatus enqueues a function-18 request.
func (l *List) ReportServerStatus(addr byte) error {
	_, err := l.CallFunction(addr, FuncServerStatus)
	return err
}

// ChangeILCMode enqueues a function-65 request and returns the timeout the
// caller should use for the surrounding Transport.Commands call: 335µs in
// the common case, 100ms when entering or leaving FirmwareUpdate.
func (l *List) ChangeILCMode(addr byte, mode Mode) (timeout time.Duration, err error) {
	prev := l.lastMode[addr]
	timeout = ChangeModeTimeout
	if mode == ModeFirmwareUpdate || prev == ModeFirmwareUpdate {
		timeout = ChangeModeBootloaderTimeout
	}
	_, err = l.CallFunction(addr, FuncChangeMode, uint16(mode))
	return timeout, err
}

// SetTempAddress enqueues a function-72 request, which per §4.5 is always
// sent to the temporary-address broadcast address (0xFF).
func (l *List) SetTempAddress(newAddr byte) error {
	_, err := l.CallFunction(buslist.AddrTempBroadcast, FuncSetTempAddress, newAddr)
	return err
}

// Reset enqueues a function-107 request.
func (l *List) Reset(addr byte) error {
	_, err := l.CallFunction(addr, FuncReset)
	return err
}

// NextBroadcastCounter returns the next value of the 4-bit rolling counter
// included in broadcast frames (0..15, wrapping).
func (l *List) NextBroadcastCounter() uint8 {
	c := l.broadcast
	l.broadcast = (l.broadcast + 1) & 0x0F
	return c
}

// BroadcastFunction writes a broadcast frame (addr, func, counter, data...)
// and records quietUs of required bus silence after it is sent so the ILCs
// can process it; it produces no reply and the Bus List skips it
// immediately during Parse/Transport dispatch.
func (l *List) BroadcastFunction(addr, function byte, quietUs time.Duration, data ...any) error {
	counter := l.NextBroadcastCounter()
	args := append([]any{counter}, data...)
	req, err := l.CallFunction(addr, function, args...)
	if err != nil {
		return err
	}
	req.Broadcast = true
	req.QuietTime = quietUs
	return nil
}

// LastMode returns the most recently observed mode for addr, or
// UnknownMode if no status/mode reply has ever been received.
func (l *List) LastMode(addr byte) (Mode, error) {
	m, ok := l.lastMode[addr]
	if !ok {
		return 0, &UnknownMode{Addr: addr}
	}
	return m, nil
}

// responseLengthForStandardFunctions implements the §4.5 fixed-length
// replies for the five standard functions; domain Bus Lists call this as a
// fallback from their own ResponseLength estimator.
func responseLengthForStandardFunctions(pending *buslist.Request) int {
	masked := pending.Function
	switch masked {
	case FuncServerID:
		return -1 // variable length; determined once the length byte is read
	case FuncServerStatus:
		return 2 + 1 + 2 + 2 + 2 // addr,func + mode + status + faults + crc
	case FuncChangeMode:
		return 2 + 2 + 2
	case FuncSetTempAddress:
		return 2 + 1 + 2
	case FuncReset:
		return 2 + 2
	default:
		return -1
	}
}

// ResponseLengthDefault is the default estimator installed on List; it is also
// exported so domain Bus Lists can delegate to it for the standard
// functions before adding their own cases.
func (l *List) ResponseLengthDefault(partial []byte) int {
	pending, ok := l.Pending()
	if !ok {
		return -1
	}
	if len(partial) >= 2 && partial[1]&errorMask != 0 {
		return 5 // addr, func|0x80, code, crc_lo, crc_hi
	}
	if pending.Function == FuncServerID {
		if len(partial) < 3 {
			return -1
		}
		return 2 + 1 + int(partial[2]) + 2 // addr,func + len byte + payload + crc
	}
	return responseLengthForStandardFunctions(pending)
}
