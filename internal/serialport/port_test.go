package serialport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineConn_Send(t *testing.T) {
	port := NewTestableSerialPort()
	c := NewLineConn(port, "\r\n")

	require.NoError(t, c.Send("rt"))
	require.NoError(t, c.Send("go"))

	assert.Equal(t, "rt\r\ngo\r\n", port.WriteBuffer.String())
	assert.Equal(t, []string{"rt", "go"}, port.WrittenLines())
}

func TestLineConn_ExchangeEcho(t *testing.T) {
	port := NewEchoSerialPort("fpgv7 got: ")
	c := NewLineConn(port, "\n")

	reply, err := c.Exchange("P2500")
	require.NoError(t, err)
	assert.Equal(t, "fpgv7 got: P2500", reply)
}

func TestLineConn_ReadLineSplitsBufferedData(t *testing.T) {
	port := NewTestableSerialPort()
	port.AddReadData([]byte("first\r\nsecond\n"))
	c := NewLineConn(port, "\n")

	l1, err := c.ReadLine()
	require.NoError(t, err)
	l2, err := c.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "first", l1)
	assert.Equal(t, "second", l2)

	_, err = c.ReadLine()
	assert.ErrorIs(t, err, ErrReadTimeout)
}

func TestLineConn_PartialLineOnTimeout(t *testing.T) {
	port := NewTestableSerialPort()
	port.AddReadData([]byte("G"))
	c := NewLineConn(port, "\n")

	line, err := c.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "G", line)
}

func TestLineConn_Errors(t *testing.T) {
	port := NewTestableSerialPort()
	c := NewLineConn(port, "\n")

	port.WriteError = errors.New("unplugged")
	assert.Error(t, c.Send("go"))

	port.ReadError = errors.New("framing")
	_, err := c.ReadLine()
	assert.Error(t, err)

	require.NoError(t, c.Close())
	assert.True(t, port.Closed)
	assert.Error(t, c.Send("go"))
}
