package serialport

import (
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/opensleep/podcore/internal/common/logger"
)

// Port is the minimal OS-level serial handle podcore needs; satisfied by
// go.bug.st/serial's serial.Port.
type Port interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	SetReadTimeout(t time.Duration) error
	Close() error
}

// OpenFunc opens an OS serial port at a path/baud; overridable in tests.
type OpenFunc func(path string, baud int) (Port, error)

// OpenPort opens a real 8N1 serial port using go.bug.st/serial.
func OpenPort(path string, baud int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s@%d: %w", path, baud, err)
	}
	return p, nil
}

// Link is C1: a framed byte stream over a named TTY. One Link owns
// exactly one OS device (spec.md §5 "Shared resources").
type Link struct {
	name     string
	path     string
	open     OpenFunc
	pollWait time.Duration

	mu      sync.Mutex
	port    Port
	baud    int
	decoder StreamDecoder
}

// New creates a Link for the given logical name (used in logs/metrics)
// and device path. pollWait bounds how long Recv blocks waiting for a
// frame before returning a timeout.
func New(name, path string, open OpenFunc, pollWait time.Duration) *Link {
	if open == nil {
		open = OpenPort
	}
	return &Link{name: name, path: path, open: open, pollWait: pollWait}
}

// Name returns the link's logical name.
func (l *Link) Name() string { return l.name }

// Open opens the OS port at a fixed baud. Use Discover instead when the
// subsystem may be at one of two baud rates.
func (l *Link) Open(baud int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.openLocked(baud)
}

func (l *Link) openLocked(baud int) error {
	if l.port != nil {
		_ = l.port.Close()
		l.port = nil
	}
	p, err := l.open(l.path, baud)
	if err != nil {
		return err
	}
	if err := p.SetReadTimeout(l.pollWait); err != nil {
		_ = p.Close()
		return fmt.Errorf("set read timeout: %w", err)
	}
	l.port = p
	l.baud = baud
	l.decoder = StreamDecoder{}
	return nil
}

// ErrTimeout is returned by Recv when no frame arrived within pollWait.
var ErrTimeout = fmt.Errorf("serialport: recv timeout")

// Send writes one frame to the wire. Frames are never interleaved: Send
// holds the link mutex for the whole write.
func (l *Link) Send(f Frame) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return fmt.Errorf("%s: link not open", l.name)
	}
	wire := Encode(f)
	n, err := l.port.Write(wire)
	if err != nil {
		return fmt.Errorf("%s: write: %w", l.name, err)
	}
	if n != len(wire) {
		return fmt.Errorf("%s: short write %d/%d", l.name, n, len(wire))
	}
	return nil
}

// Recv returns the next decoded frame, ErrTimeout if none arrived within
// pollWait, or a decode error (framing or checksum) for the one byte the
// decoder has just discarded; the next call resumes scanning after it.
func (l *Link) Recv() (Frame, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return Frame{}, fmt.Errorf("%s: link not open", l.name)
	}

	for {
		f, ok, err := l.decoder.Pop()
		if ok && err == nil {
			return f, nil
		}
		if ok && err != nil {
			logger.Debug("%s: decode error, resynchronizing: %v", l.name, err)
			return Frame{}, err
		}

		buf := make([]byte, 256)
		n, rerr := l.port.Read(buf)
		if n > 0 {
			l.decoder.Feed(buf[:n])
			continue
		}
		if rerr != nil {
			return Frame{}, fmt.Errorf("%s: read: %w", l.name, rerr)
		}
		return Frame{}, ErrTimeout
	}
}

// Close releases the OS port. Idempotent.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	l.baud = 0
	return err
}

// Baud returns the baud rate the link is currently open at, or 0 if
// closed.
func (l *Link) Baud() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.baud
}
