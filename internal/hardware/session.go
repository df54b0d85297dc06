// Package hardware serializes every operation on the instrument hardware
// through a single worker. Callers submit directives (configure, acquire,
// move grating, auto setup) and learn of completion through acknowledgement
// callbacks; only the worker, holding the session lock, touches devices.
package hardware

import (
	"context"
	"sync"

	"github.com/zeus2/zeus2be/internal/device"
)

// Grating is the diffraction grating drive.
type Grating interface {
	CurrentIndex() (int, error)
	CachedIndex() int
	GoToIndex(ctx context.Context, target int) (int, error)
}

// Chopper is the chopper wheel.
type Chopper interface {
	Setup(ctx context.Context, freqHz, runTime float64) error
	Run() error
	Stop() error
	Open(ctx context.Context) error
	IsOpen() bool
}

// SwitchBox selects the lab chop or sky signal path.
type SwitchBox interface {
	SetLabChop() error
	SetSky() error
	State() string
}

// SyncBox paces the readout from data-valid pulses.
type SyncBox interface {
	UseDataValid() error
	Go() error
}

// TimingController generates the data-valid pulse train.
type TimingController interface {
	SetPeriod(us int) error
	SetFrames(n int) error
	SetBlanks(n int) error
	SetDelays(n int) error
	Go() error
}

// Readout is the multiplexed readout controller.
type Readout interface {
	Geometry(ctx context.Context) (device.Geometry, error)
	ArmExternalSync(ctx context.Context) error
}

// Session owns the device handles. Exactly one exists per process. The
// orchestrator worker holds the lock while it executes a directive; any
// other code touching the devices must hold it too.
type Session struct {
	Grating   Grating
	Chopper   Chopper
	SwitchBox SwitchBox
	SyncBox   SyncBox
	Timing    TimingController
	Readout   Readout

	mu sync.Mutex
}

// Lock acquires exclusive access to the devices.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases exclusive access to the devices.
func (s *Session) Unlock() { s.mu.Unlock() }

// GratingIndex returns the grating position recorded after the most recent
// move or hardware read. It does not touch the device.
func (s *Session) GratingIndex() int {
	return s.Grating.CachedIndex()
}
