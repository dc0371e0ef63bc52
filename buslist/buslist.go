// Package buslist implements the ordered collection of outstanding Modbus
// requests described in spec §4.4: it dispatches replies to registered
// per-function handlers, tracks per-device error state, and exposes the
// response-length hook a Transport uses to know when it has read enough of
// a reply.
package buslist

import (
	"time"

	"go.uber.org/zap"

	"github.com/lsst-ts/crio-ilcbus/modbus"
)

// Broadcast addresses, per §6.
const (
	AddrGeneralBroadcast = 0x00
	AddrTempBroadcast    = 0xFF
)

const errorMask = 0x80

// OkHandler decodes a successful reply. It must consume the full payload
// and call Parser.CheckCRC.
type OkHandler func(p *modbus.Parser) error

// ErrHandler decodes the single-byte exception code of an error reply.
// When nil, the Bus List raises modbus.ErrorResponse instead.
type ErrHandler func(code byte) error

type handlerEntry struct {
	function      byte
	errorFunction byte
	onOK          OkHandler
	onError       ErrHandler
}

// Request is a Frame plus the (address, function) tag retained for reply
// matching.
type Request struct {
	Addr      byte
	Function  byte
	Frame     []byte
	Broadcast bool
	// QuietTime is how long the Transport should keep the bus silent after
	// this request (and, for unicast, its reply) before issuing the next
	// one.
	QuietTime time.Duration
}

// DeviceErrorRecord is the per-(bus, address) error history used by the
// suppression rule in §4.4: a new warning is only logged when the
// (function, code) pair differs from the previous one, or no error has
// been recorded yet.
type DeviceErrorRecord struct {
	LastFunction   byte
	LastCode       byte
	Count          int
	LastOccurrence time.Time
}

// List is a Bus List: an ordered collection of Requests with a cursor
// pointing at the next request whose reply is pending, a handler table
// keyed by function code, and per-address error records. A List is
// single-owner: the caller holds it exclusively for the duration of a
// Transport.Commands call.
type List struct {
	requests []*Request
	cursor   int

	handlers map[byte]*handlerEntry
	errors   map[byte]*DeviceErrorRecord

	// ResponseLength estimates the total length of the reply to the
	// request currently at the cursor, given the bytes read so far. It
	// returns -1 when the length cannot yet be determined. The estimator
	// installed by New always returns -1; domain Bus Lists override it via
	// SetResponseLength to support variable-length replies.
	ResponseLength func(partial []byte, pending *Request) int

	logger *zap.Logger
}

// New returns an empty Bus List. A nil logger is replaced with a no-op
// logger.
func New(logger *zap.Logger) *List {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &List{
		handlers:       map[byte]*handlerEntry{},
		errors:         map[byte]*DeviceErrorRecord{},
		ResponseLength: func([]byte, *Request) int { return -1 },
		logger:         logger,
	}
}

// SetResponseLength installs a custom response-length estimator.
func (l *List) SetResponseLength(f func(partial []byte, pending *Request) int) {
	l.ResponseLength = f
}

// AddResponse registers the handler pair for function. Each function code
// may be registered at most once.
func (l *List) AddResponse(function byte, onOK OkHandler, errorFunction byte, onError ErrHandler) error {
	if _, exists := l.handlers[function]; exists {
		return &DuplicateHandler{Function: function}
	}
	l.handlers[function] = &handlerEntry{
		function:      function,
		errorFunction: errorFunction,
		onOK:          onOK,
		onError:       onError,
	}
	return nil
}

// DuplicateHandler is raised by AddResponse when a function code is
// registered twice.
type DuplicateHandler struct{ Function byte }

func (e *DuplicateHandler) Error() string {
	return "buslist: handler already registered for function"
}

// HasHandler reports whether function has a registered handler.
func (l *List) HasHandler(function byte) bool {
	_, ok := l.handlers[function]
	return ok
}

// CallFunction composes a request frame (addr, function, args..., CRC) via
// modbus.Buffer and appends it to the list. The caller guarantees the
// response handler for function has already been registered.
func (l *List) CallFunction(addr, function byte, args ...any) (*Request, error) {
	buf := modbus.NewBuffer()
	if err := buf.CallFunction(addr, function, args...); err != nil {
		return nil, err
	}
	req := &Request{
		Addr:      addr,
		Function:  function,
		Frame:     buf.Bytes(),
		Broadcast: addr == AddrGeneralBroadcast || addr == AddrTempBroadcast,
	}
	l.requests = append(l.requests, req)
	return req, nil
}

// AddRaw appends an already-composed request (used by callers that need
// more control over framing than CallFunction provides, e.g. broadcasts
// with a rolling counter baked into the payload).
func (l *List) AddRaw(req *Request) {
	l.requests = append(l.requests, req)
}

// Pending returns the request at the cursor, or (nil, false) if every
// request has been resolved.
func (l *List) Pending() (*Request, bool) {
	if l.cursor >= len(l.requests) {
		return nil, false
	}
	return l.requests[l.cursor], true
}

// Requests returns the full outstanding request list.
func (l *List) Requests() []*Request { return l.requests }

// Cursor returns the current cursor position.
func (l *List) Cursor() int { return l.cursor }

// Done reports whether every request in the list has been resolved.
func (l *List) Done() bool { return l.cursor >= len(l.requests) }

// SkipBroadcast advances the cursor past the pending request without
// parsing a reply. The caller (normally the Transport) must only call this
// when Pending().Broadcast is true.
func (l *List) SkipBroadcast() {
	l.cursor++
}

// Parse decodes one received frame against the request at the cursor and
// invokes the matching handler. See §4.4 for the full dispatch contract.
func (l *List) Parse(frame []byte) error {
	req, ok := l.Pending()
	if !ok {
		p, err := modbus.NewParser(frame)
		if err != nil {
			return err
		}
		return &modbus.UnexpectedResponse{Addr: p.Address(), Func: p.Func()}
	}

	p, err := modbus.NewParser(frame)
	if err != nil {
		return err
	}

	gotAddr := p.Address()
	gotFunc := p.Func()
	maskedFunc := gotFunc &^ errorMask

	if gotAddr != req.Addr || maskedFunc != req.Function {
		l.recordError(req.Addr, req.Function, 0)
		l.cursor++
		return &modbus.WrongResponse{
			GotAddr: gotAddr, GotFunc: gotFunc,
			ExpectedAddr: req.Addr, ExpectedFunc: req.Function,
		}
	}

	entry := l.handlers[req.Function]
	if entry == nil {
		return &modbus.UnexpectedResponse{Addr: gotAddr, Func: gotFunc}
	}

	if gotFunc == req.Function {
		err := entry.onOK(p)
		l.cursor++
		return err
	}

	// Error-masked reply.
	code, err := p.ReadU8()
	if err != nil {
		l.cursor++
		return err
	}
	if ccErr := p.CheckCRC(); ccErr != nil {
		l.cursor++
		return ccErr
	}
	l.recordError(req.Addr, req.Function, code)
	l.cursor++
	if entry.onError != nil {
		return entry.onError(code)
	}
	return &modbus.ErrorResponse{Addr: req.Addr, Func: req.Function, Code: code}
}

// Reset rewinds the cursor to the beginning without discarding the
// requests or the handler table.
func (l *List) Reset() { l.cursor = 0 }

// Clear empties the request list, the cursor, and the per-device error
// records.
func (l *List) Clear() {
	l.requests = l.requests[:0]
	l.cursor = 0
	l.errors = map[byte]*DeviceErrorRecord{}
}

// ErrorRecord returns the error record for addr, or nil if none has been
// recorded.
func (l *List) ErrorRecord(addr byte) *DeviceErrorRecord {
	return l.errors[addr]
}

func (l *List) recordError(addr, function, code byte) {
	rec := l.errors[addr]
	if rec == nil {
		rec = &DeviceErrorRecord{}
		l.errors[addr] = rec
	}
	shouldLog := rec.Count == 0 || rec.LastFunction != function || rec.LastCode != code
	rec.LastFunction = function
	rec.LastCode = code
	rec.Count++
	rec.LastOccurrence = time.Now()
	if shouldLog {
		l.logger.Warn("modbus device error",
			zap.Uint8("address", addr),
			zap.Uint8("function", function),
			zap.Uint8("code", code),
			zap.Int("count", rec.Count),
		)
	}
}
