package testutils

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrPortClosed is returned by FakeAdapter after Close.
var ErrPortClosed = errors.New("port closed")

// FakeAdapter is a scripted ELM327 behind a transport.Port. Each command
// written (terminated by CR) is answered from Script; a command with several
// scripted replies gets them in order and the last one repeats.
type FakeAdapter struct {
	// Script maps command text (without CR) to replies. A reply is the raw
	// adapter output without the trailing prompt, e.g. "OK\r\r".
	Script map[string][]string
	// Silent commands get no answer at all.
	Silent map[string]bool
	// Echo repeats every command back until AT E0 is received.
	Echo bool
	// Noise is emitted once before the first reply.
	Noise []byte
	// WriteErr fails every write.
	WriteErr error

	mu          sync.Mutex
	pending     strings.Builder
	out         []byte
	sent        []string
	calls       map[string]int
	closeCount  int
	readTimeout time.Duration
}

// NewFakeAdapter returns an adapter with an empty script.
func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{
		Script: make(map[string][]string),
		Silent: make(map[string]bool),
	}
}

// On scripts the replies for cmd and returns the adapter for chaining.
func (f *FakeAdapter) On(cmd string, replies ...string) *FakeAdapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Script[cmd] = replies
	return f
}

// Write implements io.Writer.
func (f *FakeAdapter) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closeCount > 0 {
		return 0, ErrPortClosed
	}
	if f.WriteErr != nil {
		return 0, f.WriteErr
	}
	for _, b := range p {
		if b != '\r' {
			f.pending.WriteByte(b)
			continue
		}
		f.answer(f.pending.String())
		f.pending.Reset()
	}
	return len(p), nil
}

func (f *FakeAdapter) answer(cmd string) {
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	n := f.calls[cmd]
	f.calls[cmd] = n + 1
	f.sent = append(f.sent, cmd)

	if f.Silent[cmd] {
		return
	}
	if len(f.Noise) > 0 {
		f.out = append(f.out, f.Noise...)
		f.Noise = nil
	}
	if f.Echo {
		f.out = append(f.out, cmd+"\r"...)
		if cmd == "AT E0" {
			f.Echo = false
		}
	}

	replies, ok := f.Script[cmd]
	reply := "?\r\r"
	if ok && len(replies) > 0 {
		reply = replies[min(n, len(replies)-1)]
	}
	f.out = append(f.out, reply+">"...)
}

// Read returns scripted output; with nothing pending it behaves like a
// serial read timeout and returns 0, nil.
func (f *FakeAdapter) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closeCount > 0 {
		return 0, ErrPortClosed
	}
	if len(f.out) == 0 {
		return 0, nil
	}
	n := copy(p, f.out)
	f.out = f.out[n:]
	return n, nil
}

// Close counts every call; only the first succeeds.
func (f *FakeAdapter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCount++
	if f.closeCount > 1 {
		return ErrPortClosed
	}
	return nil
}

// SetReadTimeout records the timeout.
func (f *FakeAdapter) SetReadTimeout(t time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readTimeout = t
	return nil
}

// Sent returns every command received, in order.
func (f *FakeAdapter) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// Calls returns how many times cmd was received.
func (f *FakeAdapter) Calls(cmd string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[cmd]
}

// CloseCount returns how many times Close was called.
func (f *FakeAdapter) CloseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCount
}

// ReadTimeout returns the last timeout set.
func (f *FakeAdapter) ReadTimeout() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readTimeout
}

// Healthy returns an adapter scripted with the replies of a typical STN1110
// clone on a CAN vehicle, echo enabled until AT E0.
func Healthy() *FakeAdapter {
	f := NewFakeAdapter()
	f.Echo = true
	f.On("AT Z", "\r\rELM327 v1.5\r\r").
		On("AT E0", "OK\r\r").
		On("AT S0", "OK\r\r").
		On("AT SP A3", "OK\r\r").
		On("AT IB 10", "OK\r\r").
		On("AT @1", "OBDII to RS232 Interpreter\r\r").
		On("AT @2", "?\r\r").
		On("AT RV", "12.6V\r\r").
		On("AT I", "ELM327 v1.5\r\r").
		On("AT DP", "AUTO, ISO 15765-4 (CAN 11/500)\r\r").
		On("AT CS", "T:00 R:00\r\r").
		On("AT KW", "1:E9 2:8F\r\r").
		On("AT BD", "00\r\r").
		On("AT PPS", "00:FF F 01:FF F\r\r").
		On("0100", "SEARCHING...\r4100BE1FA813\r\r").
		On("0120", "4120A005B011\r\r").
		On("0140", "4140FED00400\r\r").
		On("0101", "410182076504\r\r").
		On("0902", "014\r0:490201314731\r1:4A433534343452\r2:37323532333637\r\r").
		On("0904", "49040130313233\r\r").
		On("090A", "490A0145434D0000\r\r").
		On("03", "4301330171\r\r").
		On("07", "470000\r\r").
		On("0A", "NO DATA\r\r").
		On("04", "44\r\r").
		On("010C", "410C1AF0\r\r").
		On("010D", "410D32\r\r").
		On("020000", "42000058180000\r\r").
		On("020200", "4202000133\r\r").
		On("020400", "42040080\r\r").
		On("020500", "4205007B\r\r").
		On("020C00", "420C000FA0\r\r").
		On("020D00", "420D0000\r\r")
	return f
}
