package hardware

import (
	"context"
	"fmt"
)

// configure programs the devices for c.Params. A request identical to the
// last successful configuration is acknowledged without touching any
// device, unless an error or crash reset has happened since.
func (o *Orchestrator) configure(ctx context.Context, c Configure) error {
	o.mu.Lock()
	unchanged := o.config != nil &&
		o.config.AcquisitionParams == c.Params &&
		!o.errorPending &&
		!o.needsReconfigure
	if unchanged {
		o.beams = 0
	}
	o.mu.Unlock()

	if unchanged {
		logf("configuration unchanged, skipping device setup")
		c.Ack.send(string(KindConfigure))
		return nil
	}

	o.mu.Lock()
	o.config = nil
	o.mu.Unlock()

	geom, err := o.session.Readout.Geometry(ctx)
	if err != nil {
		c.Ack.send(nack(KindConfigure, CodeHardwareFailure))
		return fmt.Errorf("read readout geometry: %w", err)
	}

	cfg, err := Derive(c.Params, geom.Rate())
	if err != nil {
		c.Ack.send(nack(KindConfigure, CodeInvalidParameter))
		return err
	}
	logf("configuring %s mode: %d phases of %d reads, %d frames, period %d us, %.3f s",
		cfg.Mode(), cfg.Phases, cfg.ReadsPerPhase, cfg.TotalFrames, cfg.TimingPeriodUS, cfg.BeamTimeS)

	if err := o.program(ctx, cfg); err != nil {
		c.Ack.send(nack(KindConfigure, CodeHardwareFailure))
		return err
	}

	o.mu.Lock()
	o.config = &cfg
	o.geometry = geom
	o.needsReconfigure = false
	o.beams = 0
	o.mu.Unlock()

	c.Ack.send(string(KindConfigure))
	return nil
}

type setupStep struct {
	name string
	fn   func() error
}

func (o *Orchestrator) program(ctx context.Context, cfg AcquisitionConfig) error {
	s := o.session

	steps := []setupStep{
		{"timing period", func() error { return s.Timing.SetPeriod(cfg.TimingPeriodUS) }},
		{"timing frames", func() error { return s.Timing.SetFrames(cfg.ReadsPerPhase) }},
		{"timing blanks", func() error { return s.Timing.SetBlanks(cfg.Phases) }},
		{"timing delays", func() error { return s.Timing.SetDelays(0) }},
	}
	if cfg.UseChopper {
		steps = append(steps,
			setupStep{"switch box lab chop", s.SwitchBox.SetLabChop},
			setupStep{"chopper setup", func() error { return s.Chopper.Setup(ctx, cfg.ChopFreqHz, cfg.BeamTimeS+3) }},
		)
	} else {
		steps = append(steps,
			setupStep{"chopper open", func() error { return s.Chopper.Open(ctx) }},
			setupStep{"switch box sky", s.SwitchBox.SetSky},
		)
	}
	steps = append(steps,
		setupStep{"sync box data-valid mode", s.SyncBox.UseDataValid},
		setupStep{"readout external sync", func() error { return s.Readout.ArmExternalSync(ctx) }},
	)

	for _, step := range steps {
		if err := step.fn(); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}
	return nil
}
