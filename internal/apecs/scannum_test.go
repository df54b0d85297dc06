package apecs

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeus2/zeus2be/internal/monitoring"
)

var obsEngine = &net.UDPAddr{IP: net.ParseIP("10.0.2.171"), Port: 33133}

func TestParseScanReply(t *testing.T) {
	n, err := ParseScanReply("APEX:OBSENGINE:scanNum 81234 2024-03-01T12:00:37.000000")
	require.NoError(t, err)
	assert.Equal(t, 81234, n)

	for _, bad := range []string{"", "APEX:OBSENGINE:scanNum", "APEX:OBSENGINE:scanNum ERROR"} {
		_, err := ParseScanReply(bad)
		assert.Error(t, err, bad)
	}
}

func TestScanNumberClient_Query(t *testing.T) {
	monitoring.SetLogger(nil)
	sock := NewMockUDPSocket()
	sock.Responder = func(msg string) string {
		if msg == ScanQuery {
			return "APEX:OBSENGINE:scanNum 555 2024-03-01T12:00:37.000000"
		}
		return ""
	}
	c := NewScanNumberClient(sock, obsEngine, time.Second)

	n, err := c.Query()
	require.NoError(t, err)
	assert.Equal(t, 555, n)
	assert.Equal(t, 555, c.ScanNum())
	assert.Equal(t, obsEngine, sock.Written[0].Addr)
	assert.True(t, sock.ReadDeadline.IsZero(), "deadline not cleared")
}

func TestScanNumberClient_NoReplyKeepsLastValue(t *testing.T) {
	monitoring.SetLogger(nil)
	sock := NewMockUDPSocket()
	c := NewScanNumberClient(sock, obsEngine, 10*time.Millisecond)
	c.scan.Store(42)

	n, err := c.Query()
	assert.ErrorIs(t, err, ErrNoReply)
	assert.Equal(t, 42, n)
}

func TestScanNumberClient_SendError(t *testing.T) {
	monitoring.SetLogger(nil)
	sock := NewMockUDPSocket()
	sock.WriteError = errors.New("network unreachable")
	c := NewScanNumberClient(sock, obsEngine, time.Second)

	_, err := c.Query()
	assert.Error(t, err)
}

func TestScanNumberClient_Run(t *testing.T) {
	monitoring.SetLogger(nil)
	sock := NewMockUDPSocket()
	next := 100
	sock.Responder = func(string) string {
		next++
		return "APEX:OBSENGINE:scanNum " + strconv.Itoa(next)
	}
	c := NewScanNumberClient(sock, obsEngine, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	c.Refresh()
	require.Eventually(t, func() bool { return c.ScanNum() == 101 }, 2*time.Second, time.Millisecond)
	c.Refresh()
	require.Eventually(t, func() bool { return c.ScanNum() == 102 }, 2*time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
