// Package stream serves reduced detector data to the telescope data
// system while an acquisition is still being written.
package stream

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/zeus2/zeus2be/internal/fsutil"
	"github.com/zeus2/zeus2be/internal/monitoring"
	"github.com/zeus2/zeus2be/internal/timeutil"
)

var logf = monitoring.Tagged("stream")

// Options configures a Streamer.
type Options struct {
	// Dir is the acquisition data directory.
	Dir string
	// Pixels are averaged into each signal-phase value.
	Pixels []Pixel
	// CycleInterval is the pause between reads of the growing files.
	CycleInterval time.Duration
	// DiscoverInterval is the pause between directory scans.
	DiscoverInterval time.Duration
	// RecentWindow bounds the age of a timestamp file that can belong to
	// the current acquisition.
	RecentWindow time.Duration
	// DeadlinePad is added to the integration time to get the deadline.
	DeadlinePad time.Duration
	// FallbackDuration is used when the integration time is unknown.
	FallbackDuration time.Duration
}

func (o Options) withDefaults() Options {
	if o.Dir == "" {
		o.Dir = "/data/cryo/current_data"
	}
	if o.CycleInterval <= 0 {
		o.CycleInterval = 500 * time.Millisecond
	}
	if o.DiscoverInterval <= 0 {
		o.DiscoverInterval = time.Second
	}
	if o.RecentWindow <= 0 {
		o.RecentWindow = 9 * time.Second
	}
	if o.DeadlinePad <= 0 {
		o.DeadlinePad = time.Second
	}
	if o.FallbackDuration <= 0 {
		o.FallbackDuration = 5 * time.Minute
	}
	return o
}

// Streamer reduces one acquisition per connection.
type Streamer struct {
	fs      fsutil.FileSystem
	reducer Reducer
	intTime IntegrationTimeFunc
	clock   timeutil.Clock
	opts    Options
}

// New creates a Streamer. intTime may be nil, in which case the
// integration time is always estimated from the run file.
func New(fs fsutil.FileSystem, reducer Reducer, intTime IntegrationTimeFunc, clock timeutil.Clock, opts Options) *Streamer {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Streamer{fs: fs, reducer: reducer, intTime: intTime, clock: clock, opts: opts.withDefaults()}
}

// Finder returns the file finder the streamer uses.
func (s *Streamer) Finder() Finder {
	return Finder{
		FS:       s.fs,
		Dir:      s.opts.Dir,
		Window:   s.opts.RecentWindow,
		Interval: s.opts.DiscoverInterval,
		Clock:    s.clock,
	}
}

// Stream finds the acquisition that began after connected and writes its
// frames to w until the expected frame count is reached or the deadline
// passes. It returns the number of frames written.
func (s *Streamer) Stream(ctx context.Context, w io.Writer, connected time.Time) (int, error) {
	data, err := s.Finder().Find(ctx, timeutil.GPSSeconds(connected))
	if err != nil {
		return 0, err
	}
	logf("streaming %s", data)

	start := s.clock.Now()
	var expected int
	rf, rfErr := s.readRunFile(data)
	if rfErr == nil {
		expected, _ = rf.FrameCount()
	}
	deadline := start.Add(s.integrationTime(rf, rfErr) + s.opts.DeadlinePad)

	pf, err := s.fs.Create(data + ".pf")
	if err != nil {
		return 0, fmt.Errorf("create %s.pf: %w", data, err)
	}
	defer pf.Close()

	c := cursor{data: data, w: w, pf: pf}
	for s.clock.Now().Before(deadline) {
		if ctx.Err() != nil {
			return c.sent, ctx.Err()
		}
		frames, err := s.cycle(ctx, &c, false)
		if err != nil {
			return c.sent, err
		}
		if expected > 0 && frames >= expected {
			if _, err := s.cycle(ctx, &c, true); err != nil {
				return c.sent, err
			}
			logf("%s complete: %d frames, %d lines", data, frames, c.sent)
			return c.sent, nil
		}
		s.clock.Sleep(s.opts.CycleInterval)
	}
	logf("%s deadline reached after %d lines", data, c.sent)
	return c.sent, nil
}

func (s *Streamer) readRunFile(data string) (RunFile, error) {
	raw, err := s.fs.ReadFile(data + ".run")
	if err != nil {
		return nil, err
	}
	return ParseRunFile(raw), nil
}

func (s *Streamer) integrationTime(rf RunFile, rfErr error) time.Duration {
	if s.intTime != nil {
		d, err := s.intTime()
		if err == nil {
			return d
		}
		logf("failed to get integration time from dispatcher, estimating: %v", err)
	}
	if rfErr == nil {
		if d, err := EstimateIntegrationTime(rf); err == nil {
			return d
		}
	}
	logf("integration time unknown, streaming for at most %v", s.opts.FallbackDuration)
	return s.opts.FallbackDuration
}

// cursor tracks what has been sent on one connection.
type cursor struct {
	data string
	w    io.Writer
	pf   io.Writer
	sent int
}

// cycle reads everything available and sends the lines not yet sent. It
// returns the number of frames present in both files. Files that are
// missing or unreadable are not an error; they are retried next cycle.
func (s *Streamer) cycle(ctx context.Context, c *cursor, final bool) (int, error) {
	raw, err := s.fs.ReadFile(c.data + ".ts")
	if err != nil {
		return 0, nil
	}
	ts := ParseTimestamps(raw)
	if len(ts) == 0 {
		return 0, nil
	}
	red, err := s.reducer.Reduce(ctx, c.data, len(ts), s.opts.Pixels)
	if err != nil {
		logf("reducing %s: %v", c.data, err)
		return 0, nil
	}

	n := min(len(ts), len(red.Chop))
	chunks := Chunks(red.Chop[:n], ts[:n])
	limit := Complete(chunks)
	if final {
		limit = len(chunks)
	}

	for i := c.sent; i < limit; i++ {
		ch := chunks[i]
		f := Frame{
			Timestamp:     timeutil.FromGPSSeconds(ch.Start),
			IntegrationUS: ch.IntegrationUS(),
			Phase:         ch.Phase(),
			Value:         1,
		}
		text := "1"
		if f.Phase != 1 {
			v, ok := pixelMean(red.Values, i/2)
			if !ok {
				break
			}
			f.Value = float32(v)
			text = strconv.FormatFloat(v, 'g', -1, 64)
		}

		if _, err := io.WriteString(c.pf, f.Line(text)+"\n"); err != nil {
			logf("writing %s.pf: %v", c.data, err)
		}
		if _, err := c.w.Write(f.Encode()); err != nil {
			return n, fmt.Errorf("send frame: %w", err)
		}
		monitoring.FramesSent.Inc()
		c.sent++
	}
	return n, nil
}

// pixelMean averages cycle k across pixels. It reports false when any
// pixel has not been reduced that far yet.
func pixelMean(values [][]float64, k int) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	xs := make([]float64, 0, len(values))
	for _, px := range values {
		if k >= len(px) {
			return 0, false
		}
		xs = append(xs, px[k])
	}
	return stat.Mean(xs, nil), true
}
