package hardware

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/zeus2/zeus2be/internal/device"
)

// Chopper positions recorded in house-keeping files.
const (
	ChopperRunning = "running"
	ChopperOpen    = "open"
	ChopperClosed  = "closed"
)

// Housekeeping is the per-run record written next to each data file as
// <file>.hk.
type Housekeeping struct {
	Config       AcquisitionConfig
	Geometry     device.Geometry
	GratingIndex int
	ChopperPos   string
	SwitchPos    string
	SyncAcq      bool
	Crash        bool
	BeamNumber   int
}

// hkBool spells booleans the way the reduction tools parse them.
func hkBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// WriteTo writes the record in its key : value text form.
func (h Housekeeping) WriteTo(w io.Writer) (int64, error) {
	c := h.Config
	rows := []struct {
		key   string
		value string
	}{
		{"MCE_cmd", "see runfile"},
		{"acq_mode", "None"},
		{"int_time", strconv.Itoa(c.IntegrationMS)},
		{"choppos_frms", strconv.Itoa(c.ReadsPerPhase)},
		{"repeat_index", "1"},
		{"gratingindex", strconv.Itoa(h.GratingIndex)},
		{"chopper_pos", h.ChopperPos},
		{"blanksw_pos", h.SwitchPos},
		{"# ---- MCE config ---", ""},
		{"sync_acq", hkBool(h.SyncAcq)},
		{"row_len", strconv.Itoa(h.Geometry.RowLen)},
		{"num_rows", strconv.Itoa(h.Geometry.NumRows)},
		{"data_rate", strconv.Itoa(h.Geometry.DataRate)},
		{"tes_bias_idle", "see runfile"},
		{"crash", hkBool(h.Crash)},
		{"# ---- APEX ----", ""},
		{"beam_number", strconv.Itoa(h.BeamNumber)},
		{"nod_cycle", strconv.Itoa(h.BeamNumber / 2)},
		{"beam_is_R", hkBool(h.BeamNumber%2 == 1)},
		{"# ---- APECS set ----", ""},
		{"sync_time", strconv.Itoa(c.SyncUS)},
		{"blank_time", strconv.Itoa(c.BlankUS)},
		{"num_phases", "2"},
		{"num_specchan", "1"},
		{"itime", strconv.Itoa(c.IntegrationMS)},
		{"chop_freq", strconv.FormatFloat(c.ChopFreqHz, 'f', -1, 64)},
	}

	var b strings.Builder
	b.WriteString("#ZEUS-2 hk\n")
	for _, r := range rows {
		if strings.HasPrefix(r.key, "#") {
			fmt.Fprintln(&b, r.key)
			continue
		}
		fmt.Fprintf(&b, "%-13s : %s\n", r.key, r.value)
	}
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

// ChopperPosition describes the wheel for the house-keeping record.
func ChopperPosition(usedChopper, open bool) string {
	switch {
	case usedChopper:
		return ChopperRunning
	case open:
		return ChopperOpen
	default:
		return ChopperClosed
	}
}
