// Package store holds the persistence backends: content repositories, payment
// ledgers and the shared verification cache.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	x402 "github.com/Rampop01/streamit"
)

// FileRepository keeps the whole catalog in a single JSON array on disk.
// Every write rewrites the file.
type FileRepository struct {
	path string
	mu   sync.RWMutex
	now  func() time.Time
}

// NewFileRepository opens path, creating it as an empty array when missing.
func NewFileRepository(path string) (*FileRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(path, []byte("[]"), 0o644); err != nil {
			return nil, fmt.Errorf("initialise %s: %w", path, err)
		}
	} else if err != nil {
		return nil, err
	}
	return &FileRepository{path: path, now: time.Now}, nil
}

func (r *FileRepository) Get(ctx context.Context, id string) (*x402.Content, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items, err := r.load()
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].ID == id {
			return &items[i], nil
		}
	}
	return nil, nil
}

// List returns every record, newest first.
func (r *FileRepository) List(ctx context.Context) ([]x402.Content, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items, err := r.load()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt > items[j].CreatedAt
	})
	return items, nil
}

func (r *FileRepository) Create(ctx context.Context, input x402.ContentInput) (*x402.Content, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	items, err := r.load()
	if err != nil {
		return nil, err
	}
	c := input.Build(r.now())
	items = append(items, c)
	if err := r.save(items); err != nil {
		return nil, err
	}
	return &c, nil
}

// IncrementViews bumps the view counter of a record. Unknown ids are ignored.
func (r *FileRepository) IncrementViews(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	items, err := r.load()
	if err != nil {
		return err
	}
	for i := range items {
		if items[i].ID == id {
			items[i].Views++
			return r.save(items)
		}
	}
	return nil
}

// Seed upserts items by id. Existing entries with other ids are kept.
func (r *FileRepository) Seed(ctx context.Context, items []x402.Content) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.load()
	if err != nil {
		return err
	}
	index := make(map[string]int, len(existing))
	for i, item := range existing {
		index[item.ID] = i
	}
	for _, item := range items {
		if i, ok := index[item.ID]; ok {
			existing[i] = item
			continue
		}
		index[item.ID] = len(existing)
		existing = append(existing, item)
	}
	return r.save(existing)
}

func (r *FileRepository) load() ([]x402.Content, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", r.path, err)
	}
	var items []x402.Content
	if len(data) == 0 {
		return items, nil
	}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode %s: %w", r.path, err)
	}
	return items, nil
}

// save writes to a temp file in the same directory and renames it over the
// catalog so readers never observe a partial file.
func (r *FileRepository) save(items []x402.Content) error {
	if items == nil {
		items = []x402.Content{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".content-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), r.path)
}
