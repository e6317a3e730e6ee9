//go:build linux

package transport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// rfcommPort is a Bluetooth serial link bound with `rfcomm bind`.
type rfcommPort struct {
	f *os.File

	mu        sync.Mutex
	timeout   time.Duration
	deadlines bool
}

// OpenRFCOMM opens a bound RFCOMM tty in raw mode.
func OpenRFCOMM(path string, readTimeout time.Duration) (Port, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("device %s does not exist, run 'sudo rfcomm bind' first", path)
	}

	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY|os.O_SYNC, 0o666)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	p := &rfcommPort{f: f}
	// tty devices normally land in the runtime poller; if not, fall back to
	// the termios VTIME timer.
	p.deadlines = f.SetReadDeadline(time.Time{}) == nil

	if err := p.SetReadTimeout(readTimeout); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	logger().Info().Str("port", path).Bool("deadlines", p.deadlines).Msg("rfcomm link opened")
	return p, nil
}

func (p *rfcommPort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	p.timeout = t
	p.mu.Unlock()

	// VTIME counts tenths of a second and tops out at 25.5s.
	vtime := min(t/(100*time.Millisecond), 255)
	if p.deadlines {
		vtime = 0
	}
	return p.makeRaw(uint8(vtime))
}

func (p *rfcommPort) makeRaw(vtime uint8) error {
	raw, err := p.f.SyscallConn()
	if err != nil {
		return err
	}
	var termErr error
	err = raw.Control(func(fd uintptr) {
		t, err := unix.IoctlGetTermios(int(fd), unix.TCGETS)
		if err != nil {
			termErr = fmt.Errorf("failed to read termios: %w", err)
			return
		}
		t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
			unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
		t.Oflag &^= unix.OPOST
		t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
		t.Cflag &^= unix.CSIZE | unix.PARENB
		t.Cflag |= unix.CS8 | unix.CLOCAL | unix.CREAD
		t.Cc[unix.VMIN] = 0
		t.Cc[unix.VTIME] = vtime
		if err := unix.IoctlSetTermios(int(fd), unix.TCSETS, t); err != nil {
			termErr = fmt.Errorf("failed to set termios: %w", err)
		}
	})
	if err != nil {
		return err
	}
	return termErr
}

func (p *rfcommPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	timeout, deadlines := p.timeout, p.deadlines
	p.mu.Unlock()

	if deadlines && timeout > 0 {
		if err := p.f.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return 0, err
		}
	}
	n, err := p.f.Read(b)
	if errors.Is(err, os.ErrDeadlineExceeded) || (n == 0 && errors.Is(err, io.EOF)) {
		return n, nil
	}
	return n, err
}

func (p *rfcommPort) Write(b []byte) (int, error) {
	return p.f.Write(b)
}

func (p *rfcommPort) Close() error {
	return p.f.Close()
}
