package device

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zeus2/zeus2be/internal/retry"
)

// ErrNoEcho is returned when the timing controller does not echo a command.
var ErrNoEcho = errors.New("timing controller did not echo command")

const echoPrefix = "fpgv7 got: "

// TimingController is the microcontroller that generates the data-valid
// pulse train: a pulse every period, frames pulses per phase, gated by the
// blank signal.
type TimingController struct {
	conn    LineSender
	retries int
}

// NewTimingController wraps conn. Each command is retried the given number
// of times if it is not echoed.
func NewTimingController(conn LineSender, retries int) *TimingController {
	return &TimingController{conn: conn, retries: retries}
}

func (t *TimingController) command(cmd string) error {
	err := retry.Do(context.Background(), retry.Policy{Retries: t.retries}, func() error {
		reply, err := t.conn.Exchange(cmd)
		if err != nil {
			return err
		}
		reply = strings.TrimPrefix(strings.TrimSpace(reply), echoPrefix)
		if reply != cmd {
			return fmt.Errorf("%w: sent %q, got %q", ErrNoEcho, cmd, reply)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("timing controller %s: %w", cmd, err)
	}
	return nil
}

// SetPeriod sets the pulse period in microseconds.
func (t *TimingController) SetPeriod(us int) error { return t.command(fmt.Sprintf("P%d", us)) }

// SetFrames sets the number of pulses per phase.
func (t *TimingController) SetFrames(n int) error { return t.command(fmt.Sprintf("N%d", n)) }

// SetBlanks sets the number of phases.
func (t *TimingController) SetBlanks(n int) error { return t.command(fmt.Sprintf("B%d", n)) }

// SetDelays sets the number of delay pulses.
func (t *TimingController) SetDelays(n int) error { return t.command(fmt.Sprintf("D%d", n)) }

// Go arms pulse generation from the next blank signal.
func (t *TimingController) Go() error { return t.command("G") }

// Stop stops pulse generation.
func (t *TimingController) Stop() error { return t.command("S") }

// Take sends pulses ignoring the blank signal.
func (t *TimingController) Take() error { return t.command("T") }
