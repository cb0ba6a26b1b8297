package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// CreateTestDataset writes the given files into root/dataset and returns the
// dataset directory. Keys are file names, values their contents.
func CreateTestDataset(t *testing.T, root, dataset string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(root, dataset)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("Failed to create dataset dir: %v", err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("Failed to write dataset file '%s': %v", name, err)
		}
	}
	return dir
}
