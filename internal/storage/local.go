package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/vrsandeep/extract-go/internal/util"
)

// Local keeps each dataset in a directory under Root.
type Local struct {
	Root string
}

// NewLocal returns a local backend rooted at root, creating it if needed.
func NewLocal(root string) (*Local, error) {
	if err := util.ValidateFolderPath(root, "."); err != nil {
		return nil, fmt.Errorf("storage root: %w", err)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, err
	}
	return &Local{Root: root}, nil
}

func (l *Local) datasetDir(dataset string) (string, error) {
	if err := util.ValidateName(dataset); err != nil {
		return "", err
	}
	return filepath.Join(l.Root, dataset), nil
}

func (l *Local) ListDatasets(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(l.Root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && !hidden(e.Name()) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func (l *Local) ListFiles(ctx context.Context, dataset string) ([]FileInfo, error) {
	dir, err := l.datasetDir(dataset)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, dataset)
		}
		return nil, err
	}
	var files []FileInfo
	for _, e := range entries {
		if e.IsDir() || hidden(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{Name: e.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	sortFiles(files)
	return files, nil
}

func (l *Local) ReadFile(ctx context.Context, dataset, name string) ([]byte, error) {
	dir, err := l.datasetDir(dataset)
	if err != nil {
		return nil, err
	}
	if err := util.ValidateName(name); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(filepath.Join(dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ErrFileNotFound, dataset, name)
	}
	return b, err
}

func (l *Local) WriteOutput(ctx context.Context, dataset, name string, data []byte) (string, error) {
	if err := util.ValidateName(dataset); err != nil {
		return "", err
	}
	if err := util.ValidateName(name); err != nil {
		return "", err
	}
	target := filepath.Join(l.Root, filepath.FromSlash(OutputName(dataset, name)))
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", err
	}
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, target); err != nil {
		return "", err
	}
	return target, nil
}
