package hardware

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/zeus2/zeus2be/internal/fsutil"
	"github.com/zeus2/zeus2be/internal/security"
)

// NumPlaceholder marks where a sequence number goes in a filename pattern.
const NumPlaceholder = "{num}"

// NameAllocator resolves filename patterns into unused names in the data
// directory. Numbers handed out are reserved, so two patterns resolved
// before either acquisition has written its file still get distinct names.
type NameAllocator struct {
	fs  fsutil.FileSystem
	dir string

	mu   sync.Mutex
	next map[string]int
}

// NewNameAllocator allocates names in dir.
func NewNameAllocator(fs fsutil.FileSystem, dir string) *NameAllocator {
	return &NameAllocator{fs: fs, dir: dir, next: make(map[string]int)}
}

// Resolve replaces {num} in pattern with the next unused four-digit
// sequence number for that pattern: one past the highest already on disk
// or reserved, starting at 0000. Patterns without a placeholder are
// returned unchanged. Names that are not plain file names are rejected.
func (a *NameAllocator) Resolve(pattern string) (string, error) {
	prefix, suffix, ok := strings.Cut(pattern, NumPlaceholder)
	if !ok {
		if err := security.ValidateDataFileName(pattern); err != nil {
			return "", err
		}
		return pattern, nil
	}
	if err := security.ValidateDataFileName(prefix + "0000" + suffix); err != nil {
		return "", err
	}
	if strings.ContainsAny(prefix+suffix, `*?[\`) || strings.Contains(suffix, NumPlaceholder) {
		return "", fmt.Errorf("invalid filename pattern %q", pattern)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	matches, err := a.fs.Glob(filepath.Join(a.dir, prefix+"????"+suffix))
	if err != nil {
		return "", fmt.Errorf("list %s: %w", a.dir, err)
	}

	n := 0
	for _, m := range matches {
		digits := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), prefix), suffix)
		v, err := strconv.Atoi(digits)
		if err != nil || v < 0 {
			continue
		}
		n = max(n, v+1)
	}
	n = max(n, a.next[pattern])
	a.next[pattern] = n + 1

	return fmt.Sprintf("%s%04d%s", prefix, n, suffix), nil
}

// Dir returns the data directory.
func (a *NameAllocator) Dir() string {
	return a.dir
}
