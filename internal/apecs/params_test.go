package apecs

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"IntegrationTime", "integrationtime"},
		{"cmdIntegrationTime", "integrationtime"},
		{"CMDSyncTime", "synctime"},
		{" band1:IfAtten ", "band1:ifatten"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParamsInt(t *testing.T) {
	p := NewParams()
	p.Set("SyncTime", "5000")
	p.Set("BlankTime", "2000.0")
	p.Set("IntegrationTime", "1.5")

	if n, err := p.Int("synctime"); err != nil || n != 5000 {
		t.Errorf("Int(synctime) = %d, %v", n, err)
	}
	if n, err := p.Int("blanktime"); err != nil || n != 2000 {
		t.Errorf("Int(blanktime) = %d, %v", n, err)
	}
	if _, err := p.Int("integrationtime"); err == nil {
		t.Error("Int accepted a fractional value")
	}
	if _, err := p.Int("missing"); err == nil {
		t.Error("Int accepted a missing key")
	}
}

func TestParamsBool(t *testing.T) {
	p := NewParams()
	if p.Bool(ParamUseChopper) {
		t.Error("usechopper defaults to on")
	}
	p.Set("UseChopper", "1")
	if !p.Bool(ParamUseChopper) {
		t.Error("usechopper 1 not read as on")
	}
}

func TestParamsKeys(t *testing.T) {
	keys := NewParams().Keys()
	if len(keys) != len(DefaultParams()) {
		t.Fatalf("got %d keys, want %d", len(keys), len(DefaultParams()))
	}
	for i := 1; i < len(keys); i++ {
		if keys[i-1] > keys[i] {
			t.Fatalf("keys not sorted: %v", keys)
		}
	}
}
