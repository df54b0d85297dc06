// Package security validates names that arrive over the network before they
// are used to build paths on the data disk.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// maxNameLen bounds data file names. APECS scan names are far shorter.
const maxNameLen = 128

// ValidateDataFileName checks that name is a plain file name: no directory
// components, no traversal, no control characters.
func ValidateDataFileName(name string) error {
	if name == "" {
		return fmt.Errorf("empty file name")
	}
	if len(name) > maxNameLen {
		return fmt.Errorf("file name %.16q... longer than %d bytes", name, maxNameLen)
	}
	if strings.ContainsAny(name, `/\`) || !filepath.IsLocal(name) || name == "." {
		return fmt.Errorf("file name %q is not a plain name", name)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("file name %q contains control characters", name)
		}
	}
	return nil
}

// JoinWithin joins name onto dir after validating it, so the result always
// names an entry directly inside dir.
func JoinWithin(dir, name string) (string, error) {
	if err := ValidateDataFileName(name); err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}
