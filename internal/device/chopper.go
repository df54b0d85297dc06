package device

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// StepsPerChop is the number of motor steps for one full chop cycle.
const StepsPerChop = 560

var (
	// ErrChopFrequency is returned for frequencies the wheel cannot hold.
	ErrChopFrequency = errors.New("invalid chop frequency")
	// ErrChopperNotReady is returned by Run before a successful Setup.
	ErrChopperNotReady = errors.New("chopper not ready")
)

const (
	minChopHz        = 0.25
	maxChopHz        = 3.5
	minBaseSpeed     = 77
	chopAcceleration = 10
	openOffsetSteps  = 40
	closeSteps       = 320
)

// Chopper is the chopper wheel. It remembers the last successful setup so
// the profile can be reloaded after open or close moves replace it.
type Chopper struct {
	motor *Motor

	mu       sync.Mutex
	ready    bool
	open     bool
	freqHz   float64
	runTime  float64
	runSteps int
}

// NewChopper wraps the chopper's motor.
func NewChopper(motor *Motor) *Chopper {
	return &Chopper{motor: motor}
}

// Setup programs the speed profile for chopping at freqHz and the number of
// steps to run for runTime seconds.
func (c *Chopper) Setup(ctx context.Context, freqHz, runTime float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setup(ctx, freqHz, runTime)
}

func (c *Chopper) setup(ctx context.Context, freqHz, runTime float64) error {
	c.freqHz = freqHz
	c.runTime = runTime
	if !(freqHz > minChopHz && freqHz < maxChopHz) {
		c.ready = false
		return fmt.Errorf("%w: %.3f Hz not in (%.2f, %.2f)", ErrChopFrequency, freqHz, minChopHz, maxChopHz)
	}

	maxSpeed := int(freqHz * StepsPerChop)
	baseSpeed := max(minBaseSpeed, maxSpeed/3)
	if err := c.motor.SetBaseSpeed(ctx, baseSpeed); err != nil {
		return err
	}
	if err := c.motor.SetMaxSpeed(ctx, maxSpeed); err != nil {
		return err
	}
	if err := c.motor.SetAcceleration(ctx, chopAcceleration); err != nil {
		return err
	}
	c.runSteps = int(math.Round(runTime * float64(maxSpeed)))
	c.ready = true
	return nil
}

// Run starts the wheel turning for the configured run time.
func (c *Chopper) Run() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return ErrChopperNotReady
	}
	c.open = false
	return c.motor.MoveSteps(Clockwise, c.runSteps)
}

// Stop halts the wheel wherever it is.
func (c *Chopper) Stop() error {
	return c.motor.Stop()
}

// Open parks the wheel clear of the beam and releases the motor. It is a
// no-op when the wheel is already open.
func (c *Chopper) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openLocked(ctx, true, true)
}

// Close parks the wheel blocking the beam.
func (c *Chopper) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.open = false
	if err := c.openLocked(ctx, false, false); err != nil {
		return err
	}
	c.open = false
	if err := c.motor.MoveSteps(CounterClockwise, closeSteps); err != nil {
		return err
	}
	if err := c.motor.WaitForMotor(ctx); err != nil {
		return err
	}
	c.motor.opts.Clock.Sleep(time.Second)
	if err := c.motor.Disable(); err != nil {
		return err
	}
	if c.ready {
		return c.setup(ctx, c.freqHz, c.runTime)
	}
	return nil
}

func (c *Chopper) openLocked(ctx context.Context, disable, reload bool) error {
	if c.open {
		return nil
	}
	if err := c.defaultSpeed(ctx); err != nil {
		return err
	}
	if err := c.motor.GoHome(CounterClockwise); err != nil {
		return err
	}
	if err := c.motor.WaitForMotor(ctx); err != nil {
		return err
	}
	if err := c.motor.MoveSteps(CounterClockwise, openOffsetSteps); err != nil {
		return err
	}
	if err := c.motor.WaitForMotor(ctx); err != nil {
		return err
	}
	if disable {
		c.motor.opts.Clock.Sleep(time.Second)
		if err := c.motor.Disable(); err != nil {
			return err
		}
	}
	if reload && c.ready {
		if err := c.setup(ctx, c.freqHz, c.runTime); err != nil {
			return err
		}
	}
	c.open = true
	return nil
}

func (c *Chopper) defaultSpeed(ctx context.Context) error {
	if err := c.motor.SetBaseSpeed(ctx, 300); err != nil {
		return err
	}
	if err := c.motor.SetMaxSpeed(ctx, 800); err != nil {
		return err
	}
	return c.motor.SetAcceleration(ctx, chopAcceleration)
}

// IsOpen reports whether the wheel was last parked open.
func (c *Chopper) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// RunSteps returns the step count of the configured run.
func (c *Chopper) RunSteps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runSteps
}
