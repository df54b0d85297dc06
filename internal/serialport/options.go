package serialport

import (
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"
)

// PortOptions describes the serial connection parameters for one of the
// backend's serial devices. Zero values take the defaults of the sync box
// and timing controller (9600 8N1, one second read timeout).
type PortOptions struct {
	BaudRate    int    `json:"baud_rate" yaml:"baud_rate"`
	DataBits    int    `json:"data_bits" yaml:"data_bits"`
	StopBits    int    `json:"stop_bits" yaml:"stop_bits"`
	Parity      string `json:"parity" yaml:"parity"`
	ReadTimeout string `json:"read_timeout" yaml:"read_timeout"`
}

const (
	defaultBaudRate    = 9600
	defaultReadTimeout = time.Second
)

// Normalize validates the options and applies defaults for any unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = defaultBaudRate
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	parity := strings.TrimSpace(strings.ToUpper(opts.Parity))
	switch parity {
	case "", "N", "NONE":
		parity = "N"
	case "E", "EVEN":
		parity = "E"
	case "O", "ODD":
		parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	opts.Parity = parity

	if opts.ReadTimeout == "" {
		opts.ReadTimeout = defaultReadTimeout.String()
	}
	if d, err := time.ParseDuration(opts.ReadTimeout); err != nil || d <= 0 {
		return opts, fmt.Errorf("invalid read timeout %q", opts.ReadTimeout)
	}

	return opts, nil
}

// Timeout returns the read timeout, falling back to the default when the
// options have not been normalized.
func (o PortOptions) Timeout() time.Duration {
	if d, err := time.ParseDuration(o.ReadTimeout); err == nil && d > 0 {
		return d
	}
	return defaultReadTimeout
}

// SerialMode converts the port options into the serial.Mode structure required by
// go.bug.st/serial when opening a port.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
	}

	switch opts.StopBits {
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		mode.StopBits = serial.OneStopBit
	}

	switch opts.Parity {
	case "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}

	return mode, nil
}
