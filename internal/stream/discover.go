package stream

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zeus2/zeus2be/internal/fsutil"
	"github.com/zeus2/zeus2be/internal/timeutil"
)

// ErrNotReady means no acquisition file matching the connection exists yet.
var ErrNotReady = errors.New("no active acquisition file")

// Finder locates the acquisition being written when a consumer connects.
type Finder struct {
	FS  fsutil.FileSystem
	Dir string
	// Window is how recently a timestamp file must have been modified.
	Window time.Duration
	// Interval is the pause between directory scans.
	Interval time.Duration
	Clock    timeutil.Clock
}

// FindOnce scans the data directory once. It returns the data file path
// (without the .ts suffix) of the newest recently modified acquisition
// whose first frame is no more than a second older than connGPS.
func (f Finder) FindOnce(connGPS float64) (string, error) {
	files, err := f.FS.Glob(filepath.Join(f.Dir, "*.ts"))
	if err != nil {
		return "", err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))

	now := f.Clock.Now()
	for _, ts := range files {
		info, err := f.FS.Stat(ts)
		if err != nil || now.Sub(info.ModTime()) > f.Window {
			continue
		}
		raw, err := f.FS.ReadFile(ts)
		if err != nil {
			continue
		}
		stamps := ParseTimestamps(raw)
		if len(stamps) == 0 || stamps[0] < connGPS-1 {
			continue
		}
		data := strings.TrimSuffix(ts, ".ts")
		fh, err := f.FS.Open(data)
		if err != nil {
			continue
		}
		fh.Close()
		return data, nil
	}
	return "", ErrNotReady
}

// Find scans until an acquisition turns up or ctx is cancelled.
func (f Finder) Find(ctx context.Context, connGPS float64) (string, error) {
	for {
		data, err := f.FindOnce(connGPS)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, ErrNotReady) {
			logf("scanning %s: %v", f.Dir, err)
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		f.Clock.Sleep(f.Interval)
	}
}
