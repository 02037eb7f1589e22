// SPDX-License-Identifier: MPL-2.0

package ledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"

	"github.com/imagewright/imagewright/pkg/recipe"
)

const (
	latestFile = "latest.toml"
	recordExt  = ".toml"
)

var (
	// ErrNoRecord is returned when the ledger holds no matching record.
	ErrNoRecord = errors.New("no build record")
	// ErrInvalidRecord is returned by Save for a record without layers.
	ErrInvalidRecord = errors.New("invalid build record")
)

type (
	// Layer is one instruction and the cache key it produced.
	Layer struct {
		Stage       recipe.Stage `toml:"stage"`
		Key         string       `toml:"key"`
		Instruction string       `toml:"instruction"`
	}

	// Record describes one successful build.
	Record struct {
		// ID distinguishes rebuilds that produce the same image key.
		ID             string    `toml:"id"`
		Tag            string    `toml:"tag"`
		ImageID        string    `toml:"image_id"`
		Digest         string    `toml:"digest,omitempty"`
		BuiltAt        time.Time `toml:"built_at"`
		BaseIdentity   string    `toml:"base_identity"`
		ManifestDigest string    `toml:"manifest_digest"`
		SourceDigest   string    `toml:"source_digest"`
		Layers         []Layer   `toml:"layers"`
		Packages       []string  `toml:"packages,omitempty"`
	}

	// Store persists records under a directory, one file per build named
	// <key>-<id>.toml, plus latest.toml.
	Store struct {
		dir string
	}
)

// Key is the final layer key, which identifies the whole image.
func (r *Record) Key() string {
	if len(r.Layers) == 0 {
		return ""
	}
	return r.Layers[len(r.Layers)-1].Key
}

// LayerKey returns the key of the last layer completing stage.
func (r *Record) LayerKey(stage recipe.Stage) (string, bool) {
	for i := len(r.Layers) - 1; i >= 0; i-- {
		if r.Layers[i].Stage == stage {
			return r.Layers[i].Key, true
		}
	}
	return "", false
}

// NewStore returns a Store rooted at dir. The directory is created on first Save.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

// Save writes rec as <key>-<id>.toml and as latest.toml, assigning an ID
// when rec has none. Rebuilding the same key keeps the earlier records.
func (s *Store) Save(rec *Record) error {
	key := rec.Key()
	if key == "" {
		return fmt.Errorf("%w: no layers", ErrInvalidRecord)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	data, err := toml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode build record: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}
	if err := writeAtomic(filepath.Join(s.dir, key+"-"+rec.ID+recordExt), data); err != nil {
		return err
	}
	return writeAtomic(filepath.Join(s.dir, latestFile), data)
}

// Latest returns the most recently saved record.
func (s *Store) Latest() (*Record, error) {
	return s.read(filepath.Join(s.dir, latestFile))
}

// Get returns the newest record for an image key.
func (s *Store) Get(key string) (*Record, error) {
	records, err := s.List()
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.Key() == key {
			return rec, nil
		}
	}
	return nil, ErrNoRecord
}

// List returns every build record, newest first.
func (s *Store) List() ([]*Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read ledger directory: %w", err)
	}

	var records []*Record
	for _, e := range entries {
		if e.IsDir() || e.Name() == latestFile || !strings.HasSuffix(e.Name(), recordExt) {
			continue
		}
		rec, err := s.read(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	slices.SortFunc(records, func(a, b *Record) int {
		return b.BuiltAt.Compare(a.BuiltAt)
	})
	return records, nil
}

func (s *Store) read(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoRecord
		}
		return nil, fmt.Errorf("read build record: %w", err)
	}
	var rec Record
	if err := toml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode build record %s: %w", filepath.Base(path), err)
	}
	return &rec, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".record-*")
	if err != nil {
		return fmt.Errorf("write build record: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write build record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write build record: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write build record: %w", err)
	}
	return nil
}
