package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/zeus2/zeus2be/internal/config"
	"github.com/zeus2/zeus2be/internal/device"
	"github.com/zeus2/zeus2be/internal/hardware"
	"github.com/zeus2/zeus2be/internal/process"
	"github.com/zeus2/zeus2be/internal/serialport"
)

// simGeometry is the clock card setup used on the sky, about 399 Hz.
var simGeometry = device.Geometry{RowLen: 100, NumRows: 33, DataRate: 38}

// instrument is the set of device connections behind the session.
type instrument struct {
	session *hardware.Session
	runner  process.Runner
	closers []io.Closer
}

func (in *instrument) Close() error {
	var errs []error
	for i := len(in.closers) - 1; i >= 0; i-- {
		errs = append(errs, in.closers[i].Close())
	}
	return errors.Join(errs...)
}

func commands(c config.CommandsConfig) hardware.Commands {
	return hardware.Commands{
		Run:        c.Run,
		FrameTimes: c.FrameTimes,
		ChopFile:   c.ChopFile,
		CrashReset: c.CrashReset,
		AutoSetup:  c.AutoSetup,
	}
}

// openInstrument connects to the real devices.
func openInstrument(ctx context.Context, cfg config.HardwareConfig) (*instrument, error) {
	in := &instrument{runner: process.NewExecRunner()}
	fail := func(err error) (*instrument, error) {
		in.Close()
		return nil, err
	}

	motorBox, err := device.DialVlinx(ctx, cfg.MotorBox, device.VlinxOptions{})
	if err != nil {
		return fail(err)
	}
	in.closers = append(in.closers, motorBox)

	switchLink, err := device.DialVlinx(ctx, cfg.SwitchBox, device.VlinxOptions{})
	if err != nil {
		return fail(err)
	}
	in.closers = append(in.closers, switchLink)

	syncConn, err := serialport.Open(cfg.SyncBoxPort, cfg.SyncBoxSerial)
	if err != nil {
		return fail(err)
	}
	in.closers = append(in.closers, syncConn)

	timingConn, err := serialport.Open(cfg.TimingPort, cfg.TimingSerial)
	if err != nil {
		return fail(err)
	}
	in.closers = append(in.closers, timingConn)

	session, err := newSession(ctx, cfg, motorBox, switchLink, syncConn, timingConn, in.runner)
	if err != nil {
		return fail(err)
	}
	in.session = session
	return in, nil
}

// simulatedInstrument builds the session over in-process devices. The
// acquisition engine reports ready at once and writes nothing.
func simulatedInstrument(ctx context.Context, cfg config.HardwareConfig) (*instrument, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	runner := process.NewFakeRunner()
	device.NewSimReadout(runner, cfg.Commands.Readout, simGeometry)
	runner.Script(cfg.Commands.Run, process.Script{Lines: []string{"simulated acquisition", hardware.ReadyMarker}})

	motorBox := device.NewSimMotorBox()
	syncConn := serialport.NewLineConn(serialport.NewTestableSerialPort(), "\r\n")
	timingConn := serialport.NewLineConn(serialport.NewEchoSerialPort("fpgv7 got: "), "\r\n")

	session, err := newSession(ctx, cfg, motorBox, device.NewSimSwitchBox(), syncConn, timingConn, runner)
	if err != nil {
		return nil, err
	}
	return &instrument{session: session, runner: runner}, nil
}

func newSession(ctx context.Context, cfg config.HardwareConfig, motorBox, switchLink device.Link, syncConn, timingConn device.LineSender, runner process.Runner) (*hardware.Session, error) {
	motorOpts := device.MotorOptions{Retries: cfg.DeviceRetries}

	grating, err := device.NewGrating(ctx, device.NewMotor(motorBox, cfg.GratingMotor, motorOpts), device.DefaultGratingOptions())
	if err != nil {
		return nil, fmt.Errorf("grating: %w", err)
	}
	switchBox, err := device.NewSwitchBox(switchLink)
	if err != nil {
		return nil, fmt.Errorf("switch box: %w", err)
	}
	syncBox, err := device.NewSyncBox(syncConn)
	if err != nil {
		return nil, fmt.Errorf("sync box: %w", err)
	}

	return &hardware.Session{
		Grating:   grating,
		Chopper:   device.NewChopper(device.NewMotor(motorBox, cfg.ChopperMotor, motorOpts)),
		SwitchBox: switchBox,
		SyncBox:   syncBox,
		Timing:    device.NewTimingController(timingConn, cfg.DeviceRetries),
		Readout:   device.NewReadout(runner, cfg.Commands.Readout, cfg.GetReadoutTimeout()),
	}, nil
}
