package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeus2/zeus2be/internal/fsutil"
	"github.com/zeus2/zeus2be/internal/timeutil"
)

const (
	testDir = "/data/cryo/current_data"
	connGPS = 1400000000.0
)

var testStart = time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC)

func tsFile(stamps ...float64) []byte {
	var b strings.Builder
	b.WriteString("# frame gps_seconds\n")
	for i, s := range stamps {
		fmt.Fprintf(&b, "%d %.6f\n", i, s)
	}
	return []byte(b.String())
}

func newFinder(t *testing.T) (Finder, *fsutil.MemoryFileSystem, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(testStart)
	mfs := fsutil.NewMemoryFileSystem()
	mfs.SetNow(clock.Now)
	return Finder{FS: mfs, Dir: testDir, Window: 9 * time.Second, Interval: time.Second, Clock: clock}, mfs, clock
}

func addAcquisition(mfs *fsutil.MemoryFileSystem, name string, stamps ...float64) {
	mfs.WriteFile(testDir+"/"+name, nil, 0644)
	mfs.WriteFile(testDir+"/"+name+".ts", tsFile(stamps...), 0644)
}

func TestFindOnce(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fsutil.MemoryFileSystem, *timeutil.MockClock)
		want  string
	}{
		{
			name: "newest wins",
			setup: func(mfs *fsutil.MemoryFileSystem, _ *timeutil.MockClock) {
				addAcquisition(mfs, "apecs_1_0000", connGPS+1)
				addAcquisition(mfs, "apecs_1_0001", connGPS+2)
			},
			want: testDir + "/apecs_1_0001",
		},
		{
			name: "stale file skipped",
			setup: func(mfs *fsutil.MemoryFileSystem, clock *timeutil.MockClock) {
				addAcquisition(mfs, "apecs_1_0000", connGPS+1)
				addAcquisition(mfs, "apecs_1_0001", connGPS+2)
				mfs.SetModTime(testDir+"/apecs_1_0001.ts", clock.Now().Add(-10*time.Second))
			},
			want: testDir + "/apecs_1_0000",
		},
		{
			name: "started before connection",
			setup: func(mfs *fsutil.MemoryFileSystem, _ *timeutil.MockClock) {
				addAcquisition(mfs, "apecs_1_0000", connGPS+1)
				addAcquisition(mfs, "apecs_1_0001", connGPS-1.5, connGPS+5)
			},
			want: testDir + "/apecs_1_0000",
		},
		{
			name: "one second of slack",
			setup: func(mfs *fsutil.MemoryFileSystem, _ *timeutil.MockClock) {
				addAcquisition(mfs, "apecs_1_0000", connGPS-1)
			},
			want: testDir + "/apecs_1_0000",
		},
		{
			name: "data file missing",
			setup: func(mfs *fsutil.MemoryFileSystem, _ *timeutil.MockClock) {
				addAcquisition(mfs, "apecs_1_0000", connGPS+1)
				mfs.WriteFile(testDir+"/apecs_1_0001.ts", tsFile(connGPS+2), 0644)
			},
			want: testDir + "/apecs_1_0000",
		},
		{
			name: "no frames yet",
			setup: func(mfs *fsutil.MemoryFileSystem, _ *timeutil.MockClock) {
				addAcquisition(mfs, "apecs_1_0000", connGPS+1)
				addAcquisition(mfs, "apecs_1_0001")
			},
			want: testDir + "/apecs_1_0000",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, mfs, clock := newFinder(t)
			tt.setup(mfs, clock)
			got, err := f.FindOnce(connGPS)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFindOnceNothing(t *testing.T) {
	f, mfs, _ := newFinder(t)
	mfs.WriteFile("/elsewhere/apecs_1_0000.ts", tsFile(connGPS+1), 0644)

	_, err := f.FindOnce(connGPS)
	assert.True(t, errors.Is(err, ErrNotReady), "got %v", err)
}

func TestFindWaitsForAcquisition(t *testing.T) {
	f, mfs, clock := newFinder(t)

	scans := 0
	f.FS = hookFS{FileSystem: mfs, onGlob: func() {
		scans++
		if scans == 3 {
			addAcquisition(mfs, "apecs_1_0000", connGPS+1)
		}
	}}

	got, err := f.Find(context.Background(), connGPS)
	require.NoError(t, err)
	assert.Equal(t, testDir+"/apecs_1_0000", got)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, clock.Sleeps())
}

func TestFindCancelled(t *testing.T) {
	f, _, _ := newFinder(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Find(ctx, connGPS)
	assert.ErrorIs(t, err, context.Canceled)
}

// hookFS runs onGlob before every directory scan.
type hookFS struct {
	fsutil.FileSystem
	onGlob func()
}

func (h hookFS) Glob(pattern string) ([]string, error) {
	h.onGlob()
	return h.FileSystem.Glob(pattern)
}
