// Package storage reads dataset files and writes extraction output for the
// supported sources.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/vrsandeep/extract-go/internal/util"
)

var (
	ErrDatasetNotFound = errors.New("dataset not found")
	ErrFileNotFound    = errors.New("file not found")
	ErrUnknownSource   = errors.New("unknown source")
)

// OutputSuffix names the sibling dataset that receives extraction output.
const OutputSuffix = "-extracted"

// FileInfo describes one file of a dataset.
type FileInfo struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Storage is a backend holding datasets of documents.
type Storage interface {
	// ListDatasets returns the dataset names, sorted.
	ListDatasets(ctx context.Context) ([]string, error)
	// ListFiles returns the files of a dataset in natural order. Hidden
	// files are left out.
	ListFiles(ctx context.Context, dataset string) ([]FileInfo, error)
	// ReadFile returns the content of a dataset file.
	ReadFile(ctx context.Context, dataset, name string) ([]byte, error)
	// WriteOutput stores the extraction result for a file and returns a
	// reference to it.
	WriteOutput(ctx context.Context, dataset, name string, data []byte) (string, error)
}

// OutputName is the object name of the result for a dataset file.
func OutputName(dataset, name string) string {
	return path.Join(dataset+OutputSuffix, name+".json")
}

// Registry maps a job's source to its backend.
type Registry struct {
	backends map[string]Storage
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: map[string]Storage{}}
}

// Register adds a backend under source.
func (r *Registry) Register(source string, s Storage) {
	r.backends[source] = s
}

// Get returns the backend for source.
func (r *Registry) Get(source string) (Storage, error) {
	s, ok := r.backends[source]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
	return s, nil
}

// Sources lists the registered source names.
func (r *Registry) Sources() []string {
	out := make([]string, 0, len(r.backends))
	for name := range r.backends {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func sortFiles(files []FileInfo) {
	sort.Slice(files, func(i, j int) bool {
		return util.NaturalSortLess(files[i].Name, files[j].Name)
	})
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// FileNames returns just the names of files.
func FileNames(files []FileInfo) []string {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	return names
}
