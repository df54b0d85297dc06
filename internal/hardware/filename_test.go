package hardware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeus2/zeus2be/internal/fsutil"
)

func TestNameAllocator_Resolve(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	for _, f := range []string{"apecs_12_0000", "apecs_12_0003", "apecs_12_0003.ts", "apecs_12_0009.hk", "apecs_13_0020"} {
		fs.WriteFile(dataDir+"/"+f, nil, 0644)
	}
	a := NewNameAllocator(fs, dataDir)

	name, err := a.Resolve("apecs_12_{num}")
	require.NoError(t, err)
	assert.Equal(t, "apecs_12_0004", name)

	// Reserved even though nothing has been written yet.
	name, err = a.Resolve("apecs_12_{num}")
	require.NoError(t, err)
	assert.Equal(t, "apecs_12_0005", name)

	name, err = a.Resolve("skychop_40_{num}")
	require.NoError(t, err)
	assert.Equal(t, "skychop_40_0000", name)
}

func TestNameAllocator_FilesWrittenAfterReservation(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	a := NewNameAllocator(fs, dataDir)

	name, _ := a.Resolve("total_power_7_{num}")
	assert.Equal(t, "total_power_7_0000", name)

	fs.WriteFile(dataDir+"/total_power_7_0006", nil, 0644)
	name, _ = a.Resolve("total_power_7_{num}")
	assert.Equal(t, "total_power_7_0007", name)
}

func TestNameAllocator_NoPlaceholder(t *testing.T) {
	a := NewNameAllocator(fsutil.NewMemoryFileSystem(), dataDir)
	name, err := a.Resolve("fixed_name")
	require.NoError(t, err)
	assert.Equal(t, "fixed_name", name)
	assert.Equal(t, dataDir, a.Dir())
}

func TestNameAllocator_RejectsGlobCharacters(t *testing.T) {
	a := NewNameAllocator(fsutil.NewMemoryFileSystem(), dataDir)
	_, err := a.Resolve("apecs_*_{num}")
	assert.Error(t, err)
	_, err = a.Resolve("a_{num}_{num}")
	assert.Error(t, err)
}

func TestNameAllocator_RejectsPathComponents(t *testing.T) {
	a := NewNameAllocator(fsutil.NewMemoryFileSystem(), dataDir)
	for _, p := range []string{"../apecs_{num}", "sub/apecs_{num}", "../fixed", ""} {
		_, err := a.Resolve(p)
		assert.Error(t, err, p)
	}
}
