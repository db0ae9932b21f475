// Package storage persists trained surrogate bundles and imports raw
// measurement tables.
package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/san-kum/propsim/internal/breakpoint"
	"github.com/san-kum/propsim/internal/dynamo"
	"github.com/san-kum/propsim/internal/surrogate"
)

// Repository loads and saves trained bundles by identifier. A missing
// bundle is reported by ok == false, not by an error.
type Repository interface {
	Load(id string) (b *surrogate.Bundle, ok bool, err error)
	Save(id string, b *surrogate.Bundle) error
	List() ([]BundleMetadata, error)
}

type BundleMetadata struct {
	ID        string               `json:"id"`
	Inputs    []string             `json:"inputs"`
	Outputs   []string             `json:"outputs"`
	Samples   int                  `json:"samples"`
	Thetas    map[string][]float64 `json:"thetas"`
	Timestamp time.Time            `json:"timestamp"`
}

func metadataOf(b *surrogate.Bundle) BundleMetadata {
	return BundleMetadata{
		ID:        b.ID,
		Inputs:    b.Inputs,
		Outputs:   b.Outputs,
		Samples:   b.Data.Len(),
		Thetas:    b.Thetas(),
		Timestamp: time.Now().UTC(),
	}
}

// FileStore keeps one directory per identifier holding bundle.json and the
// reduced training set in training.csv. Loading refits with the cached
// correlation parameters.
type FileStore struct {
	baseDir string
	opts    surrogate.Options
}

func New(baseDir string, opts surrogate.Options) *FileStore {
	return &FileStore{baseDir: baseDir, opts: opts}
}

func (s *FileStore) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

func (s *FileStore) dir(id string) (string, error) {
	if id == "" || id == "." || id == ".." || filepath.Base(id) != id {
		return "", fmt.Errorf("storage: invalid bundle id %q", id)
	}
	return filepath.Join(s.baseDir, id), nil
}

// Save stages both files in a scratch directory next to the bundle and
// renames it into place, so an interrupted save leaves either the previous
// bundle or none.
func (s *FileStore) Save(id string, b *surrogate.Bundle) (err error) {
	dir, err := s.dir(id)
	if err != nil {
		return err
	}
	if err := s.Init(); err != nil {
		return err
	}
	stage, err := os.MkdirTemp(s.baseDir, "."+id+"-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.RemoveAll(stage)
		}
	}()

	if err := writeFile(filepath.Join(stage, "training.csv"), func(w io.Writer) error {
		return WriteDataset(w, b.Data)
	}); err != nil {
		return err
	}

	meta := metadataOf(b)
	meta.ID = id
	if err := writeFile(filepath.Join(stage, "bundle.json"), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(meta)
	}); err != nil {
		return err
	}

	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.Rename(stage, dir)
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return write(f)
}

func (s *FileStore) readMetadata(dir string) (*BundleMetadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, "bundle.json"))
	if err != nil {
		return nil, err
	}
	var meta BundleMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("storage: %s: %w", dir, err)
	}
	return &meta, nil
}

func (s *FileStore) Load(id string) (*surrogate.Bundle, bool, error) {
	dir, err := s.dir(id)
	if err != nil {
		return nil, false, err
	}
	meta, err := s.readMetadata(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	f, err := os.Open(filepath.Join(dir, "training.csv"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	data, err := ReadDataset(f, meta.Inputs, meta.Outputs)
	if err != nil {
		return nil, false, fmt.Errorf("storage: bundle %s: %w", id, err)
	}
	b, err := surrogate.Restore(id, data, meta.Thetas, s.opts)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *FileStore) List() ([]BundleMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []BundleMetadata{}, nil
		}
		return nil, err
	}

	bundles := make([]BundleMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.readMetadata(filepath.Join(s.baseDir, entry.Name()))
		if err != nil {
			continue
		}
		bundles = append(bundles, *meta)
	}
	sort.Slice(bundles, func(i, j int) bool { return bundles[i].ID < bundles[j].ID })
	return bundles, nil
}

// WriteDataset writes a header of input then output names followed by one
// row per sample.
func WriteDataset(w io.Writer, d *breakpoint.Dataset) error {
	if d == nil {
		return fmt.Errorf("%w: no training set", dynamo.ErrEmptySweep)
	}
	if len(d.Y) != len(d.X) {
		return fmt.Errorf("%w: %d feature rows but %d target rows", dynamo.ErrMalformedSweep, len(d.X), len(d.Y))
	}
	cw := csv.NewWriter(w)
	header := append(append([]string{}, d.Inputs...), d.Outputs...)
	if err := cw.Write(header); err != nil {
		return err
	}
	for i := range d.X {
		if len(d.X[i]) != len(d.Inputs) || len(d.Y[i]) != len(d.Outputs) {
			return fmt.Errorf("%w: row %d has %d columns, want %d", dynamo.ErrMalformedSweep, i, len(d.X[i])+len(d.Y[i]), len(header))
		}
		row := make([]string, 0, len(header))
		for _, v := range d.X[i] {
			row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
		}
		for _, v := range d.Y[i] {
			row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
