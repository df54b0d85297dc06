package apecs

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// MaxMessageSize is the largest control datagram read in one go.
const MaxMessageSize = 1024

// ErrNoReply is returned by Request when nothing arrives before the timeout.
var ErrNoReply = errors.New("no reply")

// UDPSocket defines the datagram operations the control channel needs.
// This abstraction enables unit testing without real network connections.
type UDPSocket interface {
	// ReadFromUDP reads a UDP packet from the socket.
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)

	// WriteToUDP sends a UDP packet to addr.
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)

	// SetReadDeadline sets the deadline for future Read calls.
	SetReadDeadline(t time.Time) error

	// Close closes the socket.
	Close() error

	// LocalAddr returns the local network address.
	LocalAddr() net.Addr
}

// RealUDPSocket wraps *net.UDPConn to implement UDPSocket.
type RealUDPSocket struct {
	conn *net.UDPConn
}

// NewRealUDPSocket wraps an existing *net.UDPConn.
func NewRealUDPSocket(conn *net.UDPConn) *RealUDPSocket {
	return &RealUDPSocket{conn: conn}
}

// ListenUDP binds a socket on addr ("host:port", host may be empty).
func ListenUDP(addr string) (*RealUDPSocket, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	return NewRealUDPSocket(conn), nil
}

func (r *RealUDPSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	return r.conn.ReadFromUDP(b)
}

func (r *RealUDPSocket) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	return r.conn.WriteToUDP(b, addr)
}

func (r *RealUDPSocket) SetReadDeadline(t time.Time) error {
	return r.conn.SetReadDeadline(t)
}

func (r *RealUDPSocket) Close() error {
	return r.conn.Close()
}

func (r *RealUDPSocket) LocalAddr() net.Addr {
	return r.conn.LocalAddr()
}

// isTimeout reports whether err is an expired read deadline.
func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Request sends msg to addr and returns the first datagram that comes back
// within timeout.
func Request(sock UDPSocket, addr *net.UDPAddr, msg string, timeout time.Duration) (string, error) {
	if _, err := sock.WriteToUDP([]byte(msg), addr); err != nil {
		return "", fmt.Errorf("send %q to %s: %w", msg, addr, err)
	}
	if err := sock.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", err
	}
	defer sock.SetReadDeadline(time.Time{})

	buf := make([]byte, MaxMessageSize)
	n, _, err := sock.ReadFromUDP(buf)
	if isTimeout(err) {
		return "", fmt.Errorf("%w from %s to %q within %v", ErrNoReply, addr, msg, timeout)
	}
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}

// MockUDPSocket implements UDPSocket for testing. Reads return queued
// packets, then time out. A Responder, when set, turns every written
// datagram into a queued reply.
type MockUDPSocket struct {
	mu sync.Mutex

	// Packets holds the packets to return from ReadFromUDP.
	Packets []MockUDPPacket
	// Written records every datagram sent.
	Written []MockUDPPacket
	// Responder produces the reply to a written datagram; empty means none.
	Responder func(msg string) string
	// Closed indicates whether Close was called.
	Closed bool
	// ReadDeadline holds the value set by SetReadDeadline.
	ReadDeadline time.Time
	// LocalAddress is returned by LocalAddr.
	LocalAddress *net.UDPAddr
	// ReadError is returned on the next ReadFromUDP call if set.
	ReadError error
	// WriteError is returned on the next WriteToUDP call if set.
	WriteError error
}

// MockUDPPacket represents a packet for mock testing.
type MockUDPPacket struct {
	Data []byte
	Addr *net.UDPAddr
}

// NewMockUDPSocket creates a new MockUDPSocket with the given packets.
func NewMockUDPSocket(packets ...MockUDPPacket) *MockUDPSocket {
	return &MockUDPSocket{
		Packets: packets,
		LocalAddress: &net.UDPAddr{
			IP:   net.ParseIP("127.0.0.1"),
			Port: 16255,
		},
	}
}

// ReadFromUDP returns the next queued packet.
func (m *MockUDPSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Closed {
		return 0, nil, net.ErrClosed
	}
	if m.ReadError != nil {
		err := m.ReadError
		m.ReadError = nil
		return 0, nil, err
	}
	if len(m.Packets) == 0 {
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: &timeoutError{}}
	}
	pkt := m.Packets[0]
	m.Packets = m.Packets[1:]
	return copy(b, pkt.Data), pkt.Addr, nil
}

// WriteToUDP records the datagram and queues the Responder's reply.
func (m *MockUDPSocket) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Closed {
		return 0, net.ErrClosed
	}
	if m.WriteError != nil {
		err := m.WriteError
		m.WriteError = nil
		return 0, err
	}
	m.Written = append(m.Written, MockUDPPacket{Data: append([]byte(nil), b...), Addr: addr})
	if m.Responder != nil {
		if reply := m.Responder(string(b)); reply != "" {
			m.Packets = append(m.Packets, MockUDPPacket{Data: []byte(reply), Addr: addr})
		}
	}
	return len(b), nil
}

// Deliver queues an inbound packet.
func (m *MockUDPSocket) Deliver(data string, from *net.UDPAddr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Packets = append(m.Packets, MockUDPPacket{Data: []byte(data), Addr: from})
}

// Sent returns the payloads written so far.
func (m *MockUDPSocket) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Written))
	for i, p := range m.Written {
		out[i] = string(p.Data)
	}
	return out
}

func (m *MockUDPSocket) SetReadDeadline(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadDeadline = t
	return nil
}

func (m *MockUDPSocket) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

func (m *MockUDPSocket) LocalAddr() net.Addr {
	return m.LocalAddress
}

// timeoutError implements net.Error for timeout simulation.
type timeoutError struct{}

func (e *timeoutError) Error() string   { return "i/o timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }
