package hardware

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/zeus2/zeus2be/internal/device"
	"github.com/zeus2/zeus2be/internal/fsutil"
	"github.com/zeus2/zeus2be/internal/monitoring"
	"github.com/zeus2/zeus2be/internal/process"
	"github.com/zeus2/zeus2be/internal/timeutil"
)

// ErrQueueClosed is returned by Submit after the worker has stopped.
var ErrQueueClosed = errors.New("directive queue closed")

// ErrNotConfigured is returned when an acquisition is requested before any
// successful configuration.
var ErrNotConfigured = errors.New("acquisition not configured")

var logf = monitoring.Tagged("hardware")

// Commands are the external programs the orchestrator runs.
type Commands struct {
	Run        string
	FrameTimes string
	ChopFile   string
	CrashReset string
	AutoSetup  string
}

// DefaultCommands returns the installed locations of the readout tools.
func DefaultCommands() Commands {
	return Commands{
		Run:        "/usr/mce/mce_script/script/mce_run",
		FrameTimes: "/usr/bin/zframetimes",
		ChopFile:   "/usr/local/bin/mcechopfile",
		CrashReset: "mce_auto_crash_reset",
		AutoSetup:  "auto_setup",
	}
}

// RunRecord summarizes one finished acquisition.
type RunRecord struct {
	Filename      string    `json:"filename"`
	Mode          string    `json:"mode"`
	IntegrationMS int       `json:"integration_ms"`
	SyncUS        int       `json:"sync_us"`
	BlankUS       int       `json:"blank_us"`
	ReadsPerPhase int       `json:"reads_per_phase"`
	TotalFrames   int       `json:"total_frames"`
	GratingIndex  int       `json:"grating_index"`
	BeamNumber    int       `json:"beam_number"`
	Error         bool      `json:"error"`
	Started       time.Time `json:"started"`
	Finished      time.Time `json:"finished"`
}

// RunRecorder persists finished acquisitions.
type RunRecorder interface {
	RecordRun(ctx context.Context, r RunRecord) error
}

// Options configures an Orchestrator.
type Options struct {
	// DataDir is where acquisition files are written.
	DataDir  string
	Commands Commands
	// PollInterval is the longest the worker waits for a directive before
	// running an idle pass.
	PollInterval time.Duration
	// SyncMode runs acquisitions paced by the sync box and timing
	// controller, with frame timestamps captured alongside.
	SyncMode bool
	// CommandTimeout bounds the short external commands (post-processing,
	// crash reset, auto setup).
	CommandTimeout time.Duration

	Runner   process.Runner
	FS       fsutil.FileSystem
	Clock    timeutil.Clock
	Recorder RunRecorder
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 30 * time.Second
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = 5 * time.Minute
	}
	if o.Commands == (Commands{}) {
		o.Commands = DefaultCommands()
	}
	if o.Runner == nil {
		o.Runner = process.NewExecRunner()
	}
	if o.FS == nil {
		o.FS = fsutil.OSFileSystem{}
	}
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	return o
}

// Orchestrator is the single writer of hardware state. Directives are
// executed one at a time in submission order by Run.
type Orchestrator struct {
	session *Session
	opts    Options

	qmu     sync.Mutex
	pending []Directive
	closed  bool
	wake    chan struct{}

	mu               sync.Mutex
	state            State
	config           *AcquisitionConfig
	geometry         device.Geometry
	errorPending     bool
	needsReconfigure bool
	beams            int
	lastRun          *RunRecord
	crashResets      int
}

// New creates an orchestrator over session.
func New(session *Session, opts Options) *Orchestrator {
	return &Orchestrator{
		session: session,
		opts:    opts.withDefaults(),
		wake:    make(chan struct{}, 1),
	}
}

// Submit appends d to the directive queue. It never blocks.
func (o *Orchestrator) Submit(d Directive) error {
	o.qmu.Lock()
	if o.closed {
		o.qmu.Unlock()
		return ErrQueueClosed
	}
	o.pending = append(o.pending, d)
	o.qmu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
	return nil
}

// next pops the oldest directive, waiting up to the poll interval. It
// returns nil when the wait expires.
func (o *Orchestrator) next(ctx context.Context) Directive {
	for {
		o.qmu.Lock()
		if len(o.pending) > 0 {
			d := o.pending[0]
			o.pending = o.pending[1:]
			o.qmu.Unlock()
			return d
		}
		o.qmu.Unlock()

		select {
		case <-ctx.Done():
			return nil
		case <-o.wake:
		case <-o.opts.Clock.After(o.opts.PollInterval):
			return nil
		}
	}
}

// Run executes directives until ctx is cancelled. After each directive, and
// on every idle poll, a pending device error triggers a crash reset.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer func() {
		o.qmu.Lock()
		o.closed = true
		o.qmu.Unlock()
	}()

	for {
		d := o.next(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d != nil {
			o.execute(ctx, d)
		}
		if o.ErrorPending() {
			o.crashReset(ctx)
		}
	}
}

func (o *Orchestrator) execute(ctx context.Context, d Directive) {
	kind := string(d.Kind())
	start := o.opts.Clock.Now()
	o.setState(stateFor(d.Kind()))

	o.session.Lock()
	defer func() {
		if r := recover(); r != nil {
			logf("panic executing %s: %v\n%s", kind, r, debug.Stack())
			o.safeStop()
			monitoring.DirectivesTotal.WithLabelValues(kind, "panic").Inc()
		}
		o.session.Unlock()
		o.setState(Idle)
		monitoring.DirectiveSeconds.WithLabelValues(kind).Observe(o.opts.Clock.Since(start).Seconds())
	}()

	var err error
	switch d := d.(type) {
	case Configure:
		err = o.configure(ctx, d)
	case Acquire:
		err = o.acquire(ctx, d)
	case MoveGrating:
		err = o.moveGrating(ctx, d)
	case AutoSetup:
		err = o.autoSetup(ctx)
	default:
		err = fmt.Errorf("unknown directive %T", d)
	}

	if err != nil {
		logf("%s failed: %v", kind, err)
		o.safeStop()
		monitoring.DirectivesTotal.WithLabelValues(kind, "error").Inc()
		return
	}
	monitoring.DirectivesTotal.WithLabelValues(kind, "ok").Inc()
}

// safeStop halts the chopper wheel. A failed directive has in the past
// left it spinning.
func (o *Orchestrator) safeStop() {
	if o.session.Chopper == nil {
		return
	}
	if err := o.session.Chopper.Stop(); err != nil {
		logf("failed to stop chopper: %v", err)
	}
}

func (o *Orchestrator) moveGrating(ctx context.Context, m MoveGrating) error {
	idx, err := o.session.Grating.GoToIndex(ctx, m.Index)
	if err != nil {
		return fmt.Errorf("move grating to %d: %w", m.Index, err)
	}
	logf("grating at %d (requested %d)", idx, m.Index)
	return nil
}

func (o *Orchestrator) autoSetup(ctx context.Context) error {
	lines, status, err := process.Output(ctx, o.opts.Runner, o.opts.CommandTimeout, o.opts.Commands.AutoSetup)
	for _, l := range lines {
		logf("auto_setup: %s", l)
	}
	if err != nil {
		return fmt.Errorf("auto setup: %w", err)
	}
	if !status.Success() {
		logf("auto setup exited with status %d", status.Code)
	}
	if o.opts.SyncMode {
		if err := o.session.Readout.ArmExternalSync(ctx); err != nil {
			return fmt.Errorf("re-arm external sync: %w", err)
		}
	}
	return nil
}

// crashReset runs the readout crash recovery tool and clears the error flag
// when it succeeds. The next configure reprograms every device.
func (o *Orchestrator) crashReset(ctx context.Context) {
	logf("device error pending, running crash reset")
	monitoring.CrashResets.Inc()

	lines, status, err := process.Output(ctx, o.opts.Runner, o.opts.CommandTimeout, o.opts.Commands.CrashReset)
	for _, l := range lines {
		logf("crash reset: %s", l)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.crashResets++
	if err != nil || !status.Success() {
		logf("crash reset failed (status %d): %v", status.Code, err)
		return
	}
	o.errorPending = false
	o.needsReconfigure = true
}

func (o *Orchestrator) setError(reason string) {
	logf("setting device error: %s", reason)
	o.mu.Lock()
	o.errorPending = true
	o.mu.Unlock()
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// ErrorPending reports whether a device error awaits a crash reset.
func (o *Orchestrator) ErrorPending() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.errorPending
}

// Status is a read-only snapshot of the orchestrator.
type Status struct {
	State        string             `json:"state"`
	ErrorPending bool               `json:"error_pending"`
	Config       *AcquisitionConfig `json:"config,omitempty"`
	Beams        int                `json:"beams_since_configure"`
	GratingIndex int                `json:"grating_index"`
	QueueDepth   int                `json:"queue_depth"`
	CrashResets  int                `json:"crash_resets"`
	LastRun      *RunRecord         `json:"last_run,omitempty"`
}

// Snapshot returns the current status without touching the devices.
func (o *Orchestrator) Snapshot() Status {
	o.qmu.Lock()
	depth := len(o.pending)
	o.qmu.Unlock()

	o.mu.Lock()
	defer o.mu.Unlock()
	s := Status{
		State:        o.state.String(),
		ErrorPending: o.errorPending,
		Beams:        o.beams,
		QueueDepth:   depth,
		CrashResets:  o.crashResets,
		GratingIndex: o.session.GratingIndex(),
	}
	if o.config != nil {
		c := *o.config
		s.Config = &c
	}
	if o.lastRun != nil {
		r := *o.lastRun
		s.LastRun = &r
	}
	return s
}
