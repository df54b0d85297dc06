package hardware

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zeus2/zeus2be/internal/device"
	"github.com/zeus2/zeus2be/internal/fsutil"
	"github.com/zeus2/zeus2be/internal/monitoring"
	"github.com/zeus2/zeus2be/internal/process"
	"github.com/zeus2/zeus2be/internal/serialport"
	"github.com/zeus2/zeus2be/internal/timeutil"
)

const (
	grating = 1
	chopper = 5
	dataDir = "/data/cryo/current_data"
)

// geometry4k gives a 4000 Hz frame rate: 50 MHz / (100 * 25 * 5).
var geometry4k = device.Geometry{RowLen: 100, NumRows: 25, DataRate: 5}

// rig is a complete simulated instrument behind an orchestrator.
type rig struct {
	box        *device.SimMotorBox
	switchBox  *device.SimSwitchBox
	syncPort   *serialport.TestableSerialPort
	timingPort *serialport.TestableSerialPort
	runner     *process.FakeRunner
	readout    *device.SimReadout
	fs         *fsutil.MemoryFileSystem
	clock      *timeutil.MockClock
	recorder   *memRecorder

	session *Session
	orch    *Orchestrator

	mu   sync.Mutex
	acks []ackEvent
}

type ackEvent struct {
	value string
	// calls is the command history at the moment of the acknowledgement.
	calls []string
}

type memRecorder struct {
	mu   sync.Mutex
	runs []RunRecord
}

func (m *memRecorder) RecordRun(_ context.Context, r RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, r)
	return nil
}

func (m *memRecorder) Runs() []RunRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RunRecord(nil), m.runs...)
}

func testCommands() Commands {
	return Commands{
		Run:        "mce_run",
		FrameTimes: "zframetimes",
		ChopFile:   "mcechopfile",
		CrashReset: "mce_auto_crash_reset",
		AutoSetup:  "auto_setup",
	}
}

func newRig(t *testing.T) *rig {
	t.Helper()
	monitoring.SetLogger(t.Logf)
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	ctx := context.Background()
	clock := timeutil.NewMockClock(time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC))
	motorOpts := device.MotorOptions{Retries: device.DefaultMotorRetries, Clock: clock}

	r := &rig{
		box:        device.NewSimMotorBox(),
		switchBox:  device.NewSimSwitchBox(),
		syncPort:   serialport.NewTestableSerialPort(),
		timingPort: serialport.NewEchoSerialPort("fpgv7 got: "),
		runner:     process.NewFakeRunner(),
		fs:         fsutil.NewMemoryFileSystem(),
		clock:      clock,
		recorder:   &memRecorder{},
	}
	r.box.SetIndex(grating, 1000)
	r.readout = device.NewSimReadout(r.runner, "mce_cmd", geometry4k)
	r.runner.Script("mce_run", process.Script{Lines: []string{"preparing", ReadyMarker}})

	g, err := device.NewGrating(ctx, device.NewMotor(r.box, grating, motorOpts), device.DefaultGratingOptions())
	require.NoError(t, err)
	sw, err := device.NewSwitchBox(r.switchBox)
	require.NoError(t, err)
	sb, err := device.NewSyncBox(serialport.NewLineConn(r.syncPort, "\r\n"))
	require.NoError(t, err)

	r.session = &Session{
		Grating:   g,
		Chopper:   device.NewChopper(device.NewMotor(r.box, chopper, motorOpts)),
		SwitchBox: sw,
		SyncBox:   sb,
		Timing:    device.NewTimingController(serialport.NewLineConn(r.timingPort, "\n"), 2),
		Readout:   device.NewReadout(r.runner, "mce_cmd", time.Second),
	}
	r.orch = New(r.session, Options{
		DataDir:  dataDir,
		Commands: testCommands(),
		SyncMode: true,
		Runner:   r.runner,
		FS:       r.fs,
		Clock:    clock,
		Recorder: r.recorder,
	})
	return r
}

func (r *rig) ack() Ack {
	return func(v string) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.acks = append(r.acks, ackEvent{value: v, calls: r.runner.CommandLines()})
	}
}

func (r *rig) ackValues() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, a := range r.acks {
		out = append(out, a.value)
	}
	return out
}

// deviceWrites counts every command that reached a device.
func (r *rig) deviceWrites() int {
	return len(r.timingPort.WrittenLines()) +
		len(r.syncPort.WrittenLines()) +
		len(r.box.State(chopper).Commands) +
		len(r.box.State(grating).Commands) +
		len(r.runner.CallsTo("mce_cmd"))
}

func (r *rig) configure(p AcquisitionParams) {
	r.orch.execute(context.Background(), Configure{Params: p, Ack: r.ack()})
}

func (r *rig) acquire(name string) {
	r.orch.execute(context.Background(), Acquire{Filename: name, Ack: r.ack()})
}

// skyParams is ten seconds of sky integration with 5 ms phases.
var skyParams = AcquisitionParams{IntegrationMS: 10000, SyncUS: 5000, BlankUS: 2000}

// chopParams is ten seconds of lab chopping at 1 Hz.
var chopParams = AcquisitionParams{IntegrationMS: 10000, SyncUS: 500000, BlankUS: 2000, UseChopper: true}
