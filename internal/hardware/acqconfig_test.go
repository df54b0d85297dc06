package hardware

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDerive(t *testing.T) {
	got, err := Derive(AcquisitionParams{IntegrationMS: 10000, SyncUS: 5000, BlankUS: 2000}, 4000)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	want := AcquisitionConfig{
		AcquisitionParams: AcquisitionParams{IntegrationMS: 10000, SyncUS: 5000, BlankUS: 2000},
		ReadoutRate:       4000,
		Phases:            2000,
		ReadsPerPhase:     12,
		TotalFrames:       24000,
		TimingPeriodUS:    250,
		ChopFreqHz:        100,
		BeamTimeS:         10,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Derive mismatch (-want +got):\n%s", diff)
	}
}

func TestDerive_ZEUS2Geometry(t *testing.T) {
	// 50 MHz / (100 * 33 * 38): the standard readout rate.
	rate := 50e6 / (100 * 33 * 38)
	got, err := Derive(AcquisitionParams{IntegrationMS: 6000, SyncUS: 250000, BlankUS: 2000, UseChopper: true}, rate)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if got.Phases != 24 {
		t.Errorf("Phases = %d, want 24", got.Phases)
	}
	if got.ReadsPerPhase != 99 {
		t.Errorf("ReadsPerPhase = %d, want 99", got.ReadsPerPhase)
	}
	if got.TotalFrames != 24*99 {
		t.Errorf("TotalFrames = %d, want %d", got.TotalFrames, 24*99)
	}
	if got.TimingPeriodUS != 2508 {
		t.Errorf("TimingPeriodUS = %d, want 2508", got.TimingPeriodUS)
	}
	if got.ChopFreqHz != 2 {
		t.Errorf("ChopFreqHz = %v, want 2", got.ChopFreqHz)
	}
	if got.Mode() != "chop" {
		t.Errorf("Mode = %q", got.Mode())
	}
}

func TestDerive_Invalid(t *testing.T) {
	tests := []struct {
		name string
		p    AcquisitionParams
		rate float64
	}{
		{"zero integration", AcquisitionParams{SyncUS: 5000}, 4000},
		{"zero sync", AcquisitionParams{IntegrationMS: 1000}, 4000},
		{"blank equals sync", AcquisitionParams{IntegrationMS: 1000, SyncUS: 5000, BlankUS: 5000}, 4000},
		{"negative blank", AcquisitionParams{IntegrationMS: 1000, SyncUS: 5000, BlankUS: -1}, 4000},
		{"zero rate", AcquisitionParams{IntegrationMS: 1000, SyncUS: 5000}, 0},
		{"no reads per phase", AcquisitionParams{IntegrationMS: 1000, SyncUS: 5000, BlankUS: 2000}, 100},
		{"integration under a phase", AcquisitionParams{IntegrationMS: 1, SyncUS: 5000}, 4000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Derive(tt.p, tt.rate)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Derive error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}
