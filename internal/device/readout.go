package device

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zeus2/zeus2be/internal/process"
)

// ClockHz is the readout controller's master clock.
const ClockHz = 50e6

// Geometry is the readout timing that determines the frame rate.
type Geometry struct {
	RowLen   int
	NumRows  int
	DataRate int
}

// Rate returns the frame rate in Hz, or zero for an incomplete geometry.
func (g Geometry) Rate() float64 {
	if g.RowLen <= 0 || g.NumRows <= 0 || g.DataRate <= 0 {
		return 0
	}
	return ClockHz / float64(g.RowLen*g.NumRows*g.DataRate)
}

// Readout drives the multiplexed readout controller through its
// command-line tool.
type Readout struct {
	runner  process.Runner
	command string
	timeout time.Duration
}

// NewReadout uses command (normally mce_cmd) through runner.
func NewReadout(runner process.Runner, command string, timeout time.Duration) *Readout {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Readout{runner: runner, command: command, timeout: timeout}
}

func (r *Readout) run(ctx context.Context, args ...string) ([]string, error) {
	lines, status, err := process.Output(ctx, r.runner, r.timeout, r.command, args...)
	if err != nil {
		return nil, err
	}
	if !status.Success() {
		return nil, fmt.Errorf("%s %s: exit status %d", r.command, strings.Join(args, " "), status.Code)
	}
	return lines, nil
}

// Write sets a register on a card.
func (r *Readout) Write(ctx context.Context, card, param string, value int) error {
	_, err := r.run(ctx, "-x", "wb", card, param, strconv.Itoa(value))
	return err
}

// Read returns the first value of a register.
func (r *Readout) Read(ctx context.Context, card, param string) (int, error) {
	lines, err := r.run(ctx, "-x", "rb", card, param, "1")
	if err != nil {
		return 0, err
	}
	for i := len(lines) - 1; i >= 0; i-- {
		fields := strings.Fields(lines[i])
		if len(fields) == 0 {
			continue
		}
		v, err := strconv.Atoi(fields[len(fields)-1])
		if err != nil {
			return 0, fmt.Errorf("read %s %s: unexpected output %q", card, param, lines[i])
		}
		return v, nil
	}
	return 0, fmt.Errorf("read %s %s: no output", card, param)
}

// Geometry reads the row length, row count and data rate from the clock card.
func (r *Readout) Geometry(ctx context.Context) (Geometry, error) {
	var g Geometry
	var err error
	if g.RowLen, err = r.Read(ctx, "cc", "row_len"); err != nil {
		return g, err
	}
	if g.NumRows, err = r.Read(ctx, "cc", "num_rows"); err != nil {
		return g, err
	}
	if g.DataRate, err = r.Read(ctx, "cc", "data_rate"); err != nil {
		return g, err
	}
	return g, nil
}

// Rate returns the live frame rate in Hz.
func (r *Readout) Rate(ctx context.Context) (float64, error) {
	g, err := r.Geometry(ctx)
	if err != nil {
		return 0, err
	}
	return g.Rate(), nil
}

// ArmExternalSync puts the clock card in external sync mode, taking frames
// on data-valid pulses.
func (r *Readout) ArmExternalSync(ctx context.Context) error {
	for _, reg := range []struct {
		param string
		value int
	}{
		{"use_sync", 2},
		{"use_dv", 2},
		{"select_clk", 1},
	} {
		if err := r.Write(ctx, "cc", reg.param, reg.value); err != nil {
			return err
		}
	}
	return nil
}
