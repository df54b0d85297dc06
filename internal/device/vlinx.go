// Package device drives the ZEUS-2 instrument hardware: the grating and
// chopper motors and the switch box behind Vlinx TCP serial servers, the sync
// box and timing controller on local serial ports, and the readout controller
// through its command-line tool.
package device

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/zeus2/zeus2be/internal/timeutil"
)

// ErrNoReply is returned when a device sends nothing back before the read
// timeout.
var ErrNoReply = errors.New("device did not reply")

// Link carries commands to a device behind a serial server. Exchange clears
// any stale input, sends msg and returns the reply.
type Link interface {
	Send(msg string) error
	Exchange(msg string) (string, error)
}

// VlinxOptions controls the pacing and timeouts of a Vlinx connection.
type VlinxOptions struct {
	// Pace is the pause after every write so the server is not overrun.
	Pace time.Duration
	// ReplyTimeout bounds how long Exchange waits for a reply.
	ReplyTimeout time.Duration
	// FlushTimeout bounds how long stale input is drained before a command.
	FlushTimeout time.Duration
	Clock        timeutil.Clock
}

func (o VlinxOptions) withDefaults() VlinxOptions {
	if o.Pace <= 0 {
		o.Pace = 100 * time.Millisecond
	}
	if o.ReplyTimeout <= 0 {
		o.ReplyTimeout = 3 * time.Second
	}
	if o.FlushTimeout <= 0 {
		o.FlushTimeout = 100 * time.Millisecond
	}
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	return o
}

// Vlinx is a TCP connection to a Vlinx serial server.
type Vlinx struct {
	addr string
	conn net.Conn
	opts VlinxOptions
	mu   sync.Mutex
}

// DialVlinx connects to the serial server at addr (host:port).
func DialVlinx(ctx context.Context, addr string, opts VlinxOptions) (*Vlinx, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial vlinx %s: %w", addr, err)
	}
	return NewVlinx(addr, conn, opts), nil
}

// NewVlinx wraps an established connection.
func NewVlinx(addr string, conn net.Conn, opts VlinxOptions) *Vlinx {
	return &Vlinx{addr: addr, conn: conn, opts: opts.withDefaults()}
}

// Send writes msg as is; the caller supplies any line ending.
func (v *Vlinx) Send(msg string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.send(msg)
}

// Exchange drains stale input, sends msg and reads until a carriage return
// or the reply timeout. A partial reply is returned without error.
func (v *Vlinx) Exchange(msg string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.flush()
	if err := v.send(msg); err != nil {
		return "", err
	}
	return v.listen()
}

// Close closes the connection.
func (v *Vlinx) Close() error {
	return v.conn.Close()
}

func (v *Vlinx) send(msg string) error {
	if _, err := v.conn.Write([]byte(msg)); err != nil {
		return fmt.Errorf("send %q to %s: %w", msg, v.addr, err)
	}
	v.opts.Clock.Sleep(v.opts.Pace)
	return nil
}

func (v *Vlinx) listen() (string, error) {
	var data strings.Builder
	buf := make([]byte, 4096)
	v.conn.SetReadDeadline(time.Now().Add(v.opts.ReplyTimeout))
	defer v.conn.SetReadDeadline(time.Time{})

	for !strings.Contains(data.String(), "\r") {
		n, err := v.conn.Read(buf)
		data.Write(buf[:n])
		if err != nil {
			break
		}
	}

	reply := strings.TrimSpace(data.String())
	if reply == "" {
		return "", fmt.Errorf("%s: %w", v.addr, ErrNoReply)
	}
	return reply, nil
}

func (v *Vlinx) flush() {
	buf := make([]byte, 4096)
	v.conn.SetReadDeadline(time.Now().Add(v.opts.FlushTimeout))
	defer v.conn.SetReadDeadline(time.Time{})
	for {
		if _, err := v.conn.Read(buf); err != nil {
			return
		}
	}
}
