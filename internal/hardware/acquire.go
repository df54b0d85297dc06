package hardware

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zeus2/zeus2be/internal/monitoring"
	"github.com/zeus2/zeus2be/internal/process"
	"github.com/zeus2/zeus2be/internal/security"
)

// ReadyMarker is the line the acquisition engine prints once it is waiting
// for frames. Pulses released before it appears are lost and the engine
// hangs waiting for them.
const ReadyMarker = "acq_go"

// acquisitionSlack is added to the integration time when waiting for the
// acquisition engine to finish.
const acquisitionSlack = 2 * time.Second

// acquire records one data file.
func (o *Orchestrator) acquire(ctx context.Context, a Acquire) error {
	o.mu.Lock()
	var cfg AcquisitionConfig
	configured := o.config != nil
	if configured {
		cfg = *o.config
	}
	geom := o.geometry
	o.mu.Unlock()

	if !configured {
		a.Ack.send(nack(KindAcquire, CodeNotConfigured))
		return ErrNotConfigured
	}

	name := a.Filename
	path, err := security.JoinWithin(o.opts.DataDir, name)
	if err != nil {
		a.Ack.send(nack(KindAcquire, CodeHardwareFailure))
		return fmt.Errorf("acquire: %w", err)
	}
	s := o.session
	started := o.opts.Clock.Now()
	synced := o.opts.SyncMode
	logf("acquiring %d frames into %s", cfg.TotalFrames, path)

	if cfg.UseChopper {
		if err := s.Chopper.Run(); err != nil {
			a.Ack.send(nack(KindAcquire, CodeHardwareFailure))
			return fmt.Errorf("start chopper: %w", err)
		}
	}

	var frameTimes process.Process
	if synced {
		if err := s.SyncBox.Go(); err != nil {
			a.Ack.send(nack(KindAcquire, CodeHardwareFailure))
			return fmt.Errorf("start sync box: %w", err)
		}
		frameTimes, err = o.opts.Runner.Start(ctx, o.opts.Commands.FrameTimes,
			"-c", path, strconv.Itoa(cfg.TotalFrames), strconv.Itoa(cfg.ReadsPerPhase), "0")
		if err != nil {
			a.Ack.send(nack(KindAcquire, CodeHardwareFailure))
			return fmt.Errorf("start frame timestamp capture: %w", err)
		}
	}

	a.Ack.send(string(KindAcquire))

	timeout := time.Duration(cfg.IntegrationMS)*time.Millisecond + acquisitionSlack
	runErr := o.runAcquisition(ctx, name, cfg, timeout)
	if runErr != nil {
		o.setError(runErr.Error())
	}

	if cfg.UseChopper {
		if err := s.Chopper.Stop(); err != nil {
			logf("failed to stop chopper: %v", err)
		}
		if err := s.Chopper.Open(ctx); err != nil {
			logf("failed to open chopper: %v", err)
		}
	}

	if synced {
		if _, err := frameTimes.Wait(timeout); errors.Is(err, process.ErrTimeout) {
			logf("frame timestamp capture still running, killing it")
			frameTimes.Kill()
		}
		if _, _, err := process.Output(ctx, o.opts.Runner, o.opts.CommandTimeout, o.opts.Commands.ChopFile, path); err != nil {
			logf("chop file post-processing failed: %v", err)
		}
	}

	o.mu.Lock()
	beam := o.beams
	crashed := o.errorPending
	o.mu.Unlock()

	hk := Housekeeping{
		Config:       cfg,
		Geometry:     geom,
		GratingIndex: s.GratingIndex(),
		ChopperPos:   ChopperPosition(cfg.UseChopper, s.Chopper.IsOpen()),
		SwitchPos:    s.SwitchBox.State(),
		SyncAcq:      synced,
		Crash:        crashed,
		BeamNumber:   beam,
	}
	if err := o.writeHousekeeping(path+".hk", hk); err != nil {
		logf("failed to write house-keeping for %s: %v", name, err)
	}

	record := RunRecord{
		Filename:      name,
		Mode:          cfg.Mode(),
		IntegrationMS: cfg.IntegrationMS,
		SyncUS:        cfg.SyncUS,
		BlankUS:       cfg.BlankUS,
		ReadsPerPhase: cfg.ReadsPerPhase,
		TotalFrames:   cfg.TotalFrames,
		GratingIndex:  hk.GratingIndex,
		BeamNumber:    beam,
		Error:         crashed,
		Started:       started,
		Finished:      o.opts.Clock.Now(),
	}

	o.mu.Lock()
	o.beams++
	o.lastRun = &record
	o.mu.Unlock()

	if o.opts.Recorder != nil {
		if err := o.opts.Recorder.RecordRun(ctx, record); err != nil {
			logf("failed to record run %s: %v", name, err)
		}
	}
	logf("finished acquiring %s", name)
	return nil
}

// runAcquisition starts the acquisition engine, releases the timing
// controller once the engine reports ready, and waits for it to finish. Any
// returned error means the readout needs a crash reset.
func (o *Orchestrator) runAcquisition(ctx context.Context, name string, cfg AcquisitionConfig, timeout time.Duration) error {
	run, err := o.opts.Runner.Start(ctx, o.opts.Commands.Run,
		name, strconv.Itoa(cfg.TotalFrames), "s", fmt.Sprintf("--timeout=%d", cfg.SyncUS/500))
	if err != nil {
		return fmt.Errorf("start acquisition: %w", err)
	}

	output := make(chan string)
	go func() {
		defer close(output)
		for {
			line, err := run.ReadLine()
			if err != nil {
				return
			}
			output <- line
		}
	}()

	var sawError bool
	scan := func(line string) {
		logf("mce_run: %s", line)
		if strings.Contains(line, "error") {
			sawError = true
		}
	}

	ready := false
	deadline := o.opts.Clock.After(timeout)
waitReady:
	for {
		select {
		case line, ok := <-output:
			if !ok {
				break waitReady
			}
			scan(line)
			if strings.Contains(line, ReadyMarker) {
				ready = true
				break waitReady
			}
		case <-deadline:
			monitoring.AcquisitionTimeouts.Inc()
			run.Kill()
			drain(output, scan)
			return fmt.Errorf("acquisition not ready after %v, killed", timeout)
		}
	}

	if ready && o.opts.SyncMode {
		if err := o.session.Timing.Go(); err != nil {
			run.Kill()
			drain(output, scan)
			return fmt.Errorf("release timing controller: %w", err)
		}
	}

	var failure error
	status, err := run.Wait(timeout)
	switch {
	case errors.Is(err, process.ErrTimeout):
		monitoring.AcquisitionTimeouts.Inc()
		run.Kill()
		failure = fmt.Errorf("acquisition still running after %v, killed", timeout)
	case err != nil:
		failure = fmt.Errorf("wait for acquisition: %w", err)
	case !ready:
		failure = fmt.Errorf("acquisition exited without %s", ReadyMarker)
	case !status.Success():
		failure = fmt.Errorf("acquisition exited with status %d", status.Code)
	}

	drain(output, scan)
	if failure == nil && sawError {
		failure = errors.New("acquisition reported an error")
	}
	return failure
}

func drain(output <-chan string, fn func(string)) {
	for line := range output {
		fn(line)
	}
}

func (o *Orchestrator) writeHousekeeping(path string, hk Housekeeping) error {
	w, err := o.opts.FS.Create(path)
	if err != nil {
		return err
	}
	if _, err := hk.WriteTo(w); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
