// Package firmware implements the Firmware Programmer bootloader sequence
// from spec §4.12: mode transitions through an ilcbus.List, followed by the
// page-shrink-and-CRC upload protocol and a final verify step.
package firmware

import (
	"fmt"

	"github.com/lsst-ts/crio-ilcbus/crc"
	"github.com/lsst-ts/crio-ilcbus/ilcbus"
	"github.com/lsst-ts/crio-ilcbus/internal/numeric"
)

// Electromechanical/pneumatic-style bootloader function codes used by every
// ILC variant for firmware update, per §4.12.
const (
	FuncEraseApplication      = 101
	FuncWriteApplicationPage  = 102
	FuncWriteApplicationStats = 100
	FuncVerifyApplication     = 103
)

// Verify reply codes.
const (
	VerifyOK                  uint16 = 0x0000
	VerifyBadCRC              uint16 = 0x00FF
	VerifyBadLength           uint16 = 0xFF00
	VerifyBadCRCAndLength     uint16 = 0xFFFF
)

// VerifyFailed reports a non-success verify-application status.
type VerifyFailed struct{ Status uint16 }

func (e *VerifyFailed) Error() string {
	switch e.Status {
	case VerifyBadCRC:
		return "firmware: verify failed: bad CRC"
	case VerifyBadLength:
		return "firmware: verify failed: bad length"
	case VerifyBadCRCAndLength:
		return "firmware: verify failed: bad CRC and length"
	default:
		return fmt.Sprintf("firmware: verify failed: unknown status %#04x", e.Status)
	}
}

// BootloaderEntryFailed is raised when the ILC never reaches Bootloader
// mode after the clear-faults retry described in §4.12 step 3.
type BootloaderEntryFailed struct{ Addr byte }

func (e *BootloaderEntryFailed) Error() string {
	return "firmware: could not transition ILC into bootloader mode"
}

// pageSize is the logical page size the firmware image is walked in;
// keptPerPage is how many of those bytes are actually transmitted (every
// fourth byte is dropped, per §4.12 step 5).
const (
	pageSize    = 256
	keptPerPage = 192
)

// Programmer drives the bootloader sequence against one ILC address.
type Programmer struct {
	bus  *ilcbus.List
	addr byte
}

// New constructs a Programmer targeting addr over bus.
func New(bus *ilcbus.List, addr byte) *Programmer {
	return &Programmer{bus: bus, addr: addr}
}

// shrinkPage keeps 3 of every 4 bytes (dropping every fourth), matching the
// 256->192 byte logical-page shrink in §4.12 step 5.
func shrinkPage(page []byte) []byte {
	out := make([]byte, 0, keptPerPage)
	for i, b := range page {
		if i%4 != 3 {
			out = append(out, b)
		}
	}
	return out
}

// Program walks image in pageSize-byte logical pages, shrinking and
// transmitting each one via function 102, then finalizes with a function
// 100 WriteApplicationStats covering the CRC of every kept byte and the
// original (unshrunk) length. Start is the ILC-side starting address for
// the first page.
func (p *Programmer) Program(image []byte, start uint16) error {
	engine := crc.New()
	addr := start
	for off := 0; off < len(image); off += pageSize {
		end := numeric.Min(off+pageSize, len(image))
		page := image[off:end]
		kept := shrinkPage(page)
		engine.Update(kept)

		if err := p.writeApplicationPage(addr, kept); err != nil {
			return err
		}
		addr += pageSize
	}
	return p.writeApplicationStats(start, engine.Get(), len(image))
}

func (p *Programmer) writeApplicationPage(addr uint16, kept []byte) error {
	args := make([]any, 0, 2+len(kept))
	args = append(args, addr)
	for _, b := range kept {
		args = append(args, b)
	}
	_, err := p.bus.CallFunction(p.addr, FuncWriteApplicationPage, args...)
	return err
}

func (p *Programmer) writeApplicationStats(start uint16, crcValue uint16, length int) error {
	_, err := p.bus.CallFunction(p.addr, FuncWriteApplicationStats, crcValue, start, uint32(length))
	return err
}

// EraseApplication issues function 101.
func (p *Programmer) EraseApplication() error {
	_, err := p.bus.CallFunction(p.addr, FuncEraseApplication)
	return err
}

// VerifyApplication issues function 103. The caller is responsible for
// decoding the reply status and constructing the appropriate result; this
// helper is provided so callers driving the sequence manually don't need to
// know the function code.
func (p *Programmer) VerifyApplication() error {
	_, err := p.bus.CallFunction(p.addr, FuncVerifyApplication)
	return err
}

// CheckVerifyStatus converts a decoded verify-application status into
// either nil (success) or a *VerifyFailed.
func CheckVerifyStatus(status uint16) error {
	if status == VerifyOK {
		return nil
	}
	return &VerifyFailed{Status: status}
}

// Sequence runs the full 8-step bootloader flow described in §4.12, using
// the supplied callbacks to observe mode/status replies (the caller's
// Controller Thread/Transport loop is responsible for actually exchanging
// bytes between each ilcbus.List call and the next).
//
// ReadStatus must block until the most recent ServerStatus reply for p.addr
// has been processed and return the mode it reported.
type Sequence struct {
	Programmer  *Programmer
	ReadStatus  func() (ilcbus.Mode, error)
	RunCommands func() error // drives one bus.List round trip (Transport.Commands)
}

// Run executes the full sequence against image, starting at start.
func (s *Sequence) Run(image []byte, start uint16) error {
	mode, err := s.stepReadStatus()
	if err != nil {
		return err
	}

	if err := s.stepLeaveOperatingMode(mode); err != nil {
		return err
	}

	if err := s.stepEnterBootloader(); err != nil {
		return err
	}

	if err := s.Programmer.EraseApplication(); err != nil {
		return err
	}
	if err := s.RunCommands(); err != nil {
		return err
	}

	if err := s.Programmer.Program(image, start); err != nil {
		return err
	}
	if err := s.RunCommands(); err != nil {
		return err
	}

	if err := s.Programmer.VerifyApplication(); err != nil {
		return err
	}
	if err := s.RunCommands(); err != nil {
		return err
	}

	return s.stepReturnToOperatingMode()
}

func (s *Sequence) stepReadStatus() (ilcbus.Mode, error) {
	if err := s.RunCommands(); err != nil {
		return 0, err
	}
	return s.ReadStatus()
}

func (s *Sequence) stepLeaveOperatingMode(mode ilcbus.Mode) error {
	bus := s.Programmer.bus
	addr := s.Programmer.addr
	switch mode {
	case ilcbus.ModeEnabled:
		if _, err := bus.ChangeILCMode(addr, ilcbus.ModeDisabled); err != nil {
			return err
		}
		if err := s.RunCommands(); err != nil {
			return err
		}
		if _, err := bus.ChangeILCMode(addr, ilcbus.ModeStandby); err != nil {
			return err
		}
		return s.RunCommands()
	case ilcbus.ModeFault:
		if _, err := bus.ChangeILCMode(addr, ilcbus.ModeClearFaults); err != nil {
			return err
		}
		return s.RunCommands()
	}
	return nil
}

func (s *Sequence) stepEnterBootloader() error {
	bus := s.Programmer.bus
	addr := s.Programmer.addr

	if _, err := bus.ChangeILCMode(addr, ilcbus.ModeFirmwareUpdate); err != nil {
		return err
	}
	if cmdErr := s.RunCommands(); cmdErr != nil {
		mode, err := s.stepReadStatus()
		if err != nil {
			return err
		}
		if mode == ilcbus.ModeFault {
			if _, err := bus.ChangeILCMode(addr, ilcbus.ModeClearFaults); err != nil {
				return err
			}
			if err := s.RunCommands(); err != nil {
				return err
			}
		}
		if _, err := bus.ChangeILCMode(addr, ilcbus.ModeFirmwareUpdate); err != nil {
			return err
		}
		if err := s.RunCommands(); err != nil {
			return err
		}
	}

	mode, err := bus.LastMode(addr)
	if err != nil {
		return err
	}
	if mode != ilcbus.ModeFirmwareUpdate && mode != ilcbus.ModeBootloader {
		return &BootloaderEntryFailed{Addr: addr}
	}
	return nil
}

func (s *Sequence) stepReturnToOperatingMode() error {
	bus := s.Programmer.bus
	addr := s.Programmer.addr

	if _, err := bus.ChangeILCMode(addr, ilcbus.ModeStandby); err != nil {
		return err
	}
	if err := s.RunCommands(); err != nil {
		return err
	}

	mode, err := s.stepReadStatus()
	if err != nil {
		return err
	}
	if mode == ilcbus.ModeFault {
		if _, err := bus.ChangeILCMode(addr, ilcbus.ModeClearFaults); err != nil {
			return err
		}
		if err := s.RunCommands(); err != nil {
			return err
		}
	}

	if _, err := bus.ChangeILCMode(addr, ilcbus.ModeDisabled); err != nil {
		return err
	}
	return s.RunCommands()
}
