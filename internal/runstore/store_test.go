package runstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeus2/zeus2be/internal/hardware"
	"github.com/zeus2/zeus2be/internal/monitoring"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRun(name string, finished time.Time) hardware.RunRecord {
	return hardware.RunRecord{
		Filename:      name,
		Mode:          "chop",
		IntegrationMS: 10000,
		SyncUS:        500000,
		BlankUS:       2000,
		ReadsPerPhase: 1992,
		TotalFrames:   39840,
		GratingIndex:  1000,
		BeamNumber:    3,
		Error:         name == "apecs_1_0001",
		Started:       finished.Add(-12 * time.Second),
		Finished:      finished,
	}
}

func TestOpenMigrates(t *testing.T) {
	s := openTestStore(t)

	version, dirty, err := s.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
}

func TestReopenKeepsRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.RecordRun(context.Background(), sampleRun("apecs_1_0000", time.Now())))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	runs, err := s.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRecordAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC)

	var want []hardware.RunRecord
	for i, name := range []string{"apecs_1_0000", "apecs_1_0001", "apecs_1_0002"} {
		// Sub-second finish times must still sort in time order.
		r := sampleRun(name, base.Add(time.Duration(i)*500*time.Millisecond))
		require.NoError(t, s.RecordRun(ctx, r))
		want = append([]hardware.RunRecord{r}, want...)
	}

	runs, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)

	var got []hardware.RunRecord
	ids := map[string]bool{}
	for _, r := range runs {
		got = append(got, r.RunRecord)
		ids[r.ID] = true
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateApproxTime(0)); diff != "" {
		t.Errorf("Recent mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, ids, 3, "run ids must be unique")
	assert.True(t, runs[1].Error)

	two, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
	assert.Equal(t, "apecs_1_0002", two[0].Filename)
}

func TestRecentEmpty(t *testing.T) {
	s := openTestStore(t)
	runs, err := s.Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestStoreIsRunRecorder(t *testing.T) {
	var _ hardware.RunRecorder = (*Store)(nil)
}
