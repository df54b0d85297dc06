package hardware

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig is returned when acquisition parameters cannot produce a
// usable pulse schedule.
var ErrInvalidConfig = errors.New("invalid acquisition parameters")

// AcquisitionParams are the operator-facing inputs to a configuration.
// Two configure requests with equal params need no reprogramming.
type AcquisitionParams struct {
	IntegrationMS int  `json:"integration_ms"`
	SyncUS        int  `json:"sync_us"`
	BlankUS       int  `json:"blank_us"`
	UseChopper    bool `json:"use_chopper"`
}

// AcquisitionConfig is the pulse schedule derived from AcquisitionParams
// and the readout frame rate. It is immutable once derived.
type AcquisitionConfig struct {
	AcquisitionParams
	ReadoutRate    float64 `json:"readout_rate_hz"`
	Phases         int     `json:"phases"`
	ReadsPerPhase  int     `json:"reads_per_phase"`
	TotalFrames    int     `json:"total_frames"`
	TimingPeriodUS int     `json:"timing_period_us"`
	ChopFreqHz     float64 `json:"chop_freq_hz"`
	BeamTimeS      float64 `json:"beam_time_s"`
}

// Derive computes the pulse schedule. Each phase lasts SyncUS, of which the
// first BlankUS is blanked while the beam settles; the rest is sampled at
// the readout rate.
func Derive(p AcquisitionParams, readoutRate float64) (AcquisitionConfig, error) {
	switch {
	case p.IntegrationMS <= 0:
		return AcquisitionConfig{}, fmt.Errorf("%w: integration time %d ms", ErrInvalidConfig, p.IntegrationMS)
	case p.SyncUS <= 0:
		return AcquisitionConfig{}, fmt.Errorf("%w: sync time %d us", ErrInvalidConfig, p.SyncUS)
	case p.BlankUS < 0 || p.BlankUS >= p.SyncUS:
		return AcquisitionConfig{}, fmt.Errorf("%w: blank time %d us with sync time %d us", ErrInvalidConfig, p.BlankUS, p.SyncUS)
	case !(readoutRate > 0) || math.IsInf(readoutRate, 0):
		return AcquisitionConfig{}, fmt.Errorf("%w: readout rate %v Hz", ErrInvalidConfig, readoutRate)
	}

	onTime := float64(p.SyncUS - p.BlankUS)
	c := AcquisitionConfig{
		AcquisitionParams: p,
		ReadoutRate:       readoutRate,
		Phases:            int(math.Round(float64(p.IntegrationMS) * 1000 / float64(p.SyncUS))),
		ReadsPerPhase:     int(math.Round(onTime * readoutRate / 1e6)),
		TimingPeriodUS:    int(math.Round(1e6 / readoutRate)),
		ChopFreqHz:        1e6 / (2 * float64(p.SyncUS)),
		BeamTimeS:         float64(p.IntegrationMS) / 1000,
	}
	if c.ReadsPerPhase == 0 {
		return AcquisitionConfig{}, fmt.Errorf("%w: %v us on-time yields no reads at %.2f Hz", ErrInvalidConfig, onTime, readoutRate)
	}
	if c.Phases == 0 {
		return AcquisitionConfig{}, fmt.Errorf("%w: integration shorter than one phase", ErrInvalidConfig)
	}
	c.TotalFrames = c.Phases * c.ReadsPerPhase
	return c, nil
}

// Mode returns "chop" or "sky".
func (c AcquisitionConfig) Mode() string {
	if c.UseChopper {
		return "chop"
	}
	return "sky"
}
