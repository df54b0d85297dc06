// Package serialport provides line-oriented access to the serial devices that
// pace synchronous acquisition: the sync box and the timing controller.
package serialport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// ErrReadTimeout is returned by ReadLine when no line terminator arrives
// before the port's read timeout.
var ErrReadTimeout = errors.New("serial read timed out")

// Porter is the minimal interface needed for a serial port.
type Porter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutPorter is a Porter whose reads return (0, nil) after a timeout, as
// go.bug.st/serial ports do.
type TimeoutPorter interface {
	Porter
	SetReadTimeout(timeout time.Duration) error
}

// Open opens the serial device at path and applies the read timeout.
func Open(path string, opts PortOptions) (*LineConn, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	if err := port.SetReadTimeout(opts.Timeout()); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", path, err)
	}

	return NewLineConn(port, "\r\n"), nil
}

// LineConn sends newline-terminated commands over a serial port and reads
// newline-terminated replies. Commands and their replies are serialized so
// concurrent callers never interleave on the wire.
type LineConn struct {
	port       Porter
	terminator string

	commandMu sync.Mutex
	pending   []byte
}

// NewLineConn wraps port. Every command written is followed by terminator.
func NewLineConn(port Porter, terminator string) *LineConn {
	return &LineConn{port: port, terminator: terminator}
}

// Send writes a single command without waiting for a reply.
func (c *LineConn) Send(command string) error {
	c.commandMu.Lock()
	defer c.commandMu.Unlock()
	return c.write(command)
}

// Exchange writes a command and returns the next line received.
func (c *LineConn) Exchange(command string) (string, error) {
	c.commandMu.Lock()
	defer c.commandMu.Unlock()

	if err := c.write(command); err != nil {
		return "", err
	}
	return c.readLine()
}

// ReadLine returns the next line received, without its terminator.
func (c *LineConn) ReadLine() (string, error) {
	c.commandMu.Lock()
	defer c.commandMu.Unlock()
	return c.readLine()
}

// Close closes the underlying port.
func (c *LineConn) Close() error {
	return c.port.Close()
}

func (c *LineConn) write(command string) error {
	if _, err := io.WriteString(c.port, command+c.terminator); err != nil {
		return fmt.Errorf("write %q: %w", command, err)
	}
	return nil
}

func (c *LineConn) readLine() (string, error) {
	buf := make([]byte, 128)
	for {
		if i := bytes.IndexByte(c.pending, '\n'); i >= 0 {
			line := string(c.pending[:i])
			c.pending = c.pending[i+1:]
			return strings.TrimRight(line, "\r"), nil
		}

		n, err := c.port.Read(buf)
		if n > 0 {
			c.pending = append(c.pending, buf[:n]...)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("read: %w", err)
		}
		// A zero-length read without error is the port's read timeout.
		partial := strings.TrimSpace(string(c.pending))
		c.pending = nil
		if partial != "" {
			return partial, nil
		}
		return "", ErrReadTimeout
	}
}
