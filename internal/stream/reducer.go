package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zeus2/zeus2be/internal/process"
)

// Pixel addresses a detector in readout (row, column) order.
type Pixel struct {
	Row int `json:"row" yaml:"row"`
	Col int `json:"col" yaml:"col"`
}

func (p Pixel) String() string {
	return fmt.Sprintf("%d:%d", p.Row, p.Col)
}

// Reduction is what the reducer extracted from a detector data file.
type Reduction struct {
	// Chop is the chop marker of every frame read, 0 or 1.
	Chop []int `json:"chop"`
	// Values holds, for each requested pixel in order, one reduced value
	// per chop cycle.
	Values [][]float64 `json:"values"`
}

// Reducer reads up to limit frames of a detector data file and reduces
// them for the given pixels. A file that cannot be read yet is an error the
// streamer retries.
type Reducer interface {
	Reduce(ctx context.Context, dataFile string, limit int, pixels []Pixel) (Reduction, error)
}

// ExecReducer runs an external reduction program that prints a Reduction
// as JSON: <command> <data file> <limit> <row:col>...
type ExecReducer struct {
	Runner  process.Runner
	Command string
	Timeout time.Duration
}

// Reduce implements Reducer.
func (r ExecReducer) Reduce(ctx context.Context, dataFile string, limit int, pixels []Pixel) (Reduction, error) {
	args := []string{dataFile, strconv.Itoa(limit)}
	for _, p := range pixels {
		args = append(args, p.String())
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	lines, status, err := process.Output(ctx, r.Runner, timeout, r.Command, args...)
	if err != nil {
		return Reduction{}, err
	}
	if !status.Success() {
		return Reduction{}, fmt.Errorf("%s exited with status %d: %s", r.Command, status.Code, strings.Join(lines, "; "))
	}

	var red Reduction
	if err := json.Unmarshal([]byte(strings.Join(lines, "\n")), &red); err != nil {
		return Reduction{}, fmt.Errorf("decode %s output: %w", r.Command, err)
	}
	if len(red.Chop) > limit {
		red.Chop = red.Chop[:limit]
	}
	if len(red.Values) != len(pixels) {
		return Reduction{}, fmt.Errorf("%s returned %d pixels, want %d", r.Command, len(red.Values), len(pixels))
	}
	return red, nil
}
