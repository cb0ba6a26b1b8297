package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidateName checks a single path segment such as a source, dataset or
// file name. Separators, traversal and control characters are rejected.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("name cannot be empty")
	case name == "." || name == "..":
		return fmt.Errorf("invalid name %q", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("name %q must not contain path separators", name)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("name %q contains control characters", name)
		}
	}
	return nil
}

// ValidateFolderPath checks that folderPath, relative to basePath when not
// absolute, is a writable directory or can be created.
func ValidateFolderPath(folderPath, basePath string) error {
	if folderPath == "" {
		return fmt.Errorf("folder path cannot be empty")
	}
	if strings.Contains(folderPath, "..") {
		return fmt.Errorf("folder path contains invalid directory traversal")
	}
	full := filepath.Clean(folderPath)
	if !filepath.IsAbs(full) {
		full = filepath.Join(basePath, full)
	}

	info, err := os.Stat(full)
	switch {
	case err == nil && !info.IsDir():
		return fmt.Errorf("path exists but is not a directory: %s", full)
	case err == nil:
		return checkWritable(full)
	case !os.IsNotExist(err):
		return fmt.Errorf("cannot access path: %w", err)
	}

	// Walk up to the nearest existing ancestor; it must be a writable directory.
	parent := filepath.Dir(full)
	for {
		info, err := os.Stat(parent)
		if err == nil {
			if !info.IsDir() {
				return fmt.Errorf("parent path exists but is not a directory: %s", parent)
			}
			return checkWritable(parent)
		}
		if !os.IsNotExist(err) {
			return fmt.Errorf("cannot access parent directory: %w", err)
		}
		next := filepath.Dir(parent)
		if next == parent {
			return fmt.Errorf("no existing parent for %s", full)
		}
		parent = next
	}
}

func checkWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".extract_write_check_*")
	if err != nil {
		return fmt.Errorf("no write permission for %s: %w", dir, err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
