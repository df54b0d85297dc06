package device

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zeus2/zeus2be/internal/retry"
	"github.com/zeus2/zeus2be/internal/timeutil"
)

// ErrMotor reports a motor controller that refused a command or could not
// complete a move.
var ErrMotor = errors.New("motor error")

// Direction is a motor rotation direction command.
type Direction string

const (
	Clockwise        Direction = "+"
	CounterClockwise Direction = "-"
)

// DefaultMotorRetries is the retry count the motor box is normally run with.
const DefaultMotorRetries = 2

// MotorOptions tunes a Motor.
type MotorOptions struct {
	// Retries is the number of times a checked command is repeated after
	// the controller reports an error. Zero sends each command once.
	Retries int
	// PollInterval is the pause between moving-status queries.
	PollInterval time.Duration
	// MoveTimeout bounds a single wait for the motor to stop.
	MoveTimeout time.Duration
	Clock       timeutil.Clock
}

func (o MotorOptions) withDefaults() MotorOptions {
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.MoveTimeout <= 0 {
		o.MoveTimeout = 5 * time.Minute
	}
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	return o
}

// Motor is one controller on the motor box's shared serial line, addressed
// by its number: 1 for the grating, 5 for the chopper wheel.
type Motor struct {
	link   Link
	number int
	opts   MotorOptions
}

// NewMotor returns the motor with the given address on link.
func NewMotor(link Link, number int, opts MotorOptions) *Motor {
	return &Motor{link: link, number: number, opts: opts.withDefaults()}
}

func (m *Motor) message(cmd string) string {
	return fmt.Sprintf("@%d%s\r", m.number, cmd)
}

func (m *Motor) send(cmd string) error {
	return m.link.Send(m.message(cmd))
}

func (m *Motor) query(cmd string) (string, error) {
	return m.link.Exchange(m.message(cmd))
}

func (m *Motor) queryInt(cmd string) (int, error) {
	reply, err := m.query(cmd)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(reply))
	if err != nil {
		return 0, fmt.Errorf("motor %d %s: unexpected reply %q", m.number, cmd, reply)
	}
	return n, nil
}

// checked sends cmd and confirms with an error query, repeating the command
// up to the configured number of retries.
func (m *Motor) checked(ctx context.Context, cmd string) error {
	err := retry.Do(ctx, retry.Policy{Retries: m.opts.Retries}, func() error {
		if err := m.send(cmd); err != nil {
			return err
		}
		code, err := m.query("!")
		if err != nil {
			return err
		}
		if strings.TrimSpace(code) != "0" {
			return fmt.Errorf("%w: motor %d %s: controller error %q", ErrMotor, m.number, cmd, code)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("could not execute command %s: %w", cmd, err)
	}
	return nil
}

// SetMaxSpeed sets the slew speed in steps per second.
func (m *Motor) SetMaxSpeed(ctx context.Context, speed int) error {
	return m.checked(ctx, fmt.Sprintf("M%d", speed))
}

// SetBaseSpeed sets the start/stop speed in steps per second.
func (m *Motor) SetBaseSpeed(ctx context.Context, speed int) error {
	return m.checked(ctx, fmt.Sprintf("B%d", speed))
}

// SetAcceleration sets the ramp between base and max speed.
func (m *Motor) SetAcceleration(ctx context.Context, accel int) error {
	return m.checked(ctx, fmt.Sprintf("A%d", accel))
}

// MoveSteps starts a relative move of n steps in dir.
func (m *Motor) MoveSteps(dir Direction, n int) error {
	for _, cmd := range []string{string(dir), fmt.Sprintf("N%d", n), "O0", "G"} {
		if err := m.send(cmd); err != nil {
			return err
		}
	}
	return nil
}

// GoToIndex starts an absolute move. It does not compensate for backlash.
func (m *Motor) GoToIndex(index int) error {
	for _, cmd := range []string{fmt.Sprintf("P%d", index), "O0", "G"} {
		if err := m.send(cmd); err != nil {
			return err
		}
	}
	return nil
}

// GoHome drives toward the home switch in dir.
func (m *Motor) GoHome(dir Direction) error {
	for _, cmd := range []string{string(dir), "O0", "H0"} {
		if err := m.send(cmd); err != nil {
			return err
		}
	}
	return nil
}

// Disable removes holding current from the motor.
func (m *Motor) Disable() error {
	return m.send("O1")
}

// Stop halts any move in progress.
func (m *Motor) Stop() error {
	return m.send(".")
}

// CurrentIndex returns the position the controller believes it is at.
func (m *Motor) CurrentIndex() (int, error) {
	return m.queryInt("VZ")
}

// ErrorCode returns the controller error register. 8192 means the motor
// is running.
func (m *Motor) ErrorCode() (int, error) {
	return m.queryInt("!")
}

// Limits reports whether the hard and soft limit switches are engaged. The
// controller clears bit 0 at the hard limit and bit 1 at the soft limit.
func (m *Motor) Limits() (hard, soft bool, err error) {
	bits, err := m.queryInt("L0")
	if err != nil {
		return false, false, err
	}
	return bits&1 == 0, bits&2 == 0, nil
}

// WaitForMotor blocks until the controller reports the motor stopped.
// Unparseable status replies are treated as still moving.
func (m *Motor) WaitForMotor(ctx context.Context) error {
	start := m.opts.Clock.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if m.opts.Clock.Since(start) > m.opts.MoveTimeout {
			return fmt.Errorf("%w: motor %d still moving after %v", ErrMotor, m.number, m.opts.MoveTimeout)
		}

		status, err := m.queryInt("VF")
		if err == nil && status <= 0 {
			return nil
		}
		m.opts.Clock.Sleep(m.opts.PollInterval)
	}
}

// SlewToHardLimit drives to the hard limit, zeroes the step counter and
// checks the limit switch, trying a second time before giving up.
func (m *Motor) SlewToHardLimit(ctx context.Context) error {
	for attempt := 0; attempt < 2; attempt++ {
		for _, cmd := range []string{string(CounterClockwise), "O0", "S"} {
			if err := m.send(cmd); err != nil {
				return err
			}
		}
		if err := m.WaitForMotor(ctx); err != nil {
			return err
		}
		if err := m.send("Z0"); err != nil {
			return err
		}
		hard, _, err := m.Limits()
		if err != nil {
			return err
		}
		if hard {
			return nil
		}
	}
	return fmt.Errorf("%w: could not home motor %d", ErrMotor, m.number)
}
