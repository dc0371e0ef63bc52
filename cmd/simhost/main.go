// Command simhost drives a single simulated ILC bus end to end: it issues a
// ReportServerID and a ReportServerStatus request, answers them with a
// canned simulated device, and logs what came back. It exists as a
// runnable example of wiring ilcbus, transport, and the Controller Thread
// together, and as a smoke test during development against hardware that
// isn't available yet.
package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lsst-ts/crio-ilcbus/controller"
	"github.com/lsst-ts/crio-ilcbus/ilcbus"
	"github.com/lsst-ts/crio-ilcbus/modbus"
	"github.com/lsst-ts/crio-ilcbus/task"
	"github.com/lsst-ts/crio-ilcbus/transport"
)

// fakeILC answers ReportServerID and ReportServerStatus for any address
// with a fixed, plausible reply.
type fakeILC struct{}

func (fakeILC) GenerateResponse(written []byte) []byte {
	addr := written[0]
	function := written[1]
	buf := modbus.NewBuffer()
	switch function {
	case ilcbus.FuncServerID:
		buf.WriteBytes([]byte{addr, ilcbus.FuncServerID, 15})
		buf.WriteU48(0xAABBCCDDEEFF)
		buf.WriteBytes([]byte{1, 2, 0, 0, 3, 0})
		buf.WriteBytes([]byte{'S', 'I', 'M'})
	case ilcbus.FuncServerStatus:
		buf.WriteBytes([]byte{addr, ilcbus.FuncServerStatus})
		buf.WriteU8(uint8(ilcbus.ModeEnabled))
		buf.WriteU16(0)
		buf.WriteU16(0)
	default:
		return nil
	}
	buf.WriteCRC()
	return buf.Bytes()
}

type loggingHandler struct {
	ilcbus.NoopHandler
	log *zap.Logger
}

func (h *loggingHandler) ProcessServerID(addr byte, v ilcbus.ServerID) error {
	h.log.Info("server id", zap.Uint8("addr", addr), zap.String("fw", v.FWName), zap.Uint64("unique_id", v.UniqueID))
	return nil
}

func (h *loggingHandler) ProcessServerStatus(addr byte, v ilcbus.ServerStatus) error {
	h.log.Info("server status", zap.Uint8("addr", addr), zap.Stringer("mode", v.Mode))
	return nil
}

// pollTask issues one ReportServerID + ReportServerStatus round trip every
// time it runs, rescheduling itself every second.
type pollTask struct {
	task.Base
	bus  *ilcbus.List
	tr   *transport.Transport
	addr byte
	log  *zap.Logger
}

func (p *pollTask) Run() task.Reschedule {
	if err := p.bus.ReportServerID(p.addr); err != nil {
		p.log.Warn("ReportServerID", zap.Error(err))
		return task.After(time.Second)
	}
	if err := p.bus.ReportServerStatus(p.addr); err != nil {
		p.log.Warn("ReportServerStatus", zap.Error(err))
		return task.After(time.Second)
	}
	if err := p.tr.Commands(context.Background(), p.bus.List, 500*time.Millisecond); err != nil {
		p.log.Warn("Commands", zap.Error(err))
	}
	return task.After(time.Second)
}

func main() {
	log, _ := zap.NewDevelopment()
	defer log.Sync()

	handler := &loggingHandler{log: log}
	bus := ilcbus.New(log, handler)
	tr := transport.New(transport.NewSimulatedChannel(fakeILC{}))

	ctrl := controller.New()
	if err := ctrl.Start(time.Second); err != nil {
		log.Fatal("start controller", zap.Error(err))
	}
	defer ctrl.Stop(time.Second)

	ctrl.Enqueue(&pollTask{bus: bus, tr: tr, addr: 1, log: log})

	time.Sleep(3500 * time.Millisecond)
}
