package device

import (
	"context"
	"fmt"
	"sync/atomic"
)

// GratingOptions holds the grating drive's motion profile.
type GratingOptions struct {
	BaseSpeed    int
	MaxSpeed     int
	Acceleration int
	// Overshoot is how far past the target an upward move travels before
	// settling back down.
	Overshoot int
	MaxIndex  int
}

// DefaultGratingOptions returns the profile of the ZEUS-2 grating drive.
func DefaultGratingOptions() GratingOptions {
	return GratingOptions{
		BaseSpeed:    500,
		MaxSpeed:     1500,
		Acceleration: 20,
		Overshoot:    71,
		MaxIndex:     2845,
	}
}

// ApproachPlan returns the absolute positions to visit, in order, to move
// from current to target. Every plan ends one index above the target and its
// last leg always travels downward, so the gear train is loaded the same way
// at every stop. An empty plan means no move is needed.
func ApproachPlan(current, target, overshoot int) []int {
	switch {
	case current == target:
		return nil
	case target < current:
		return []int{target + 1}
	default:
		return []int{target + overshoot, target + 1}
	}
}

// Grating is the diffraction grating drive.
type Grating struct {
	motor *Motor
	opts  GratingOptions
	index atomic.Int64
}

// NewGrating programs the motion profile and reads the current position.
// A grating reporting index zero without its limit switch engaged has lost
// its position and is homed.
func NewGrating(ctx context.Context, motor *Motor, opts GratingOptions) (*Grating, error) {
	g := &Grating{motor: motor, opts: opts}

	if err := motor.SetMaxSpeed(ctx, opts.MaxSpeed); err != nil {
		return nil, err
	}
	if err := motor.SetBaseSpeed(ctx, opts.BaseSpeed); err != nil {
		return nil, err
	}
	if err := motor.SetAcceleration(ctx, opts.Acceleration); err != nil {
		return nil, err
	}

	idx, err := motor.CurrentIndex()
	if err != nil {
		return nil, fmt.Errorf("read grating index: %w", err)
	}
	hard, _, err := motor.Limits()
	if err != nil {
		return nil, fmt.Errorf("read grating limits: %w", err)
	}
	if idx == 0 && !hard {
		if err := motor.SlewToHardLimit(ctx); err != nil {
			return nil, err
		}
	}
	g.index.Store(int64(idx))
	return g, nil
}

// CurrentIndex reads the position from the controller and refreshes the
// cached value.
func (g *Grating) CurrentIndex() (int, error) {
	idx, err := g.motor.CurrentIndex()
	if err != nil {
		return 0, err
	}
	g.index.Store(int64(idx))
	return idx, nil
}

// CachedIndex returns the position recorded after the last move or read.
func (g *Grating) CachedIndex() int {
	return int(g.index.Load())
}

// GoToIndex moves to target following ApproachPlan, waiting for the motor to
// settle after each leg, and returns the position reported afterwards.
func (g *Grating) GoToIndex(ctx context.Context, target int) (int, error) {
	if target < 0 || (g.opts.MaxIndex > 0 && target > g.opts.MaxIndex) {
		return g.CachedIndex(), fmt.Errorf("grating index %d outside 0..%d", target, g.opts.MaxIndex)
	}

	current, err := g.CurrentIndex()
	if err != nil {
		return g.CachedIndex(), err
	}

	for _, pos := range ApproachPlan(current, target, g.opts.Overshoot) {
		if err := g.motor.GoToIndex(pos); err != nil {
			return g.CachedIndex(), err
		}
		if err := g.motor.WaitForMotor(ctx); err != nil {
			return g.CachedIndex(), err
		}
	}
	return g.CurrentIndex()
}
