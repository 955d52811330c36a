package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

// Provider persists a store's value between sessions.
type Provider[T any] interface {
	// Save durably writes the value.
	Save(ctx context.Context, value T) error
	// Load returns the persisted value.
	Load(ctx context.Context) (T, error)
	// IsPresent reports whether a persisted value exists.
	IsPresent(ctx context.Context) (bool, error)
}

// MemoryProvider is a volatile Provider keeping the value in process memory.
// It is the default backing for the controller's staged stores, whose
// durability is handled by the storage layer instead.
type MemoryProvider[T any] struct {
	mu      sync.Mutex
	value   T
	present bool
}

// NewMemoryProvider constructs an empty in-memory provider.
func NewMemoryProvider[T any]() *MemoryProvider[T] {
	return &MemoryProvider[T]{}
}

// Save implements Provider.
func (p *MemoryProvider[T]) Save(_ context.Context, value T) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.value = value
	p.present = true
	return nil
}

// Load implements Provider.
func (p *MemoryProvider[T]) Load(_ context.Context) (T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.present {
		var zero T
		return zero, errors.New("store: no value present")
	}
	return p.value, nil
}

// IsPresent implements Provider.
func (p *MemoryProvider[T]) IsPresent(_ context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.present, nil
}

// FileProvider persists the value as a JSON document on disk. Files are
// written with 0600 permissions since stores may hold conversation data.
type FileProvider[T any] struct {
	path string
	mu   sync.Mutex
}

// NewFileProvider constructs a provider backed by the given file path.
func NewFileProvider[T any](path string) *FileProvider[T] {
	return &FileProvider[T]{path: path}
}

// Save implements Provider.
func (p *FileProvider[T]) Save(_ context.Context, value T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal store value: %w", err)
	}
	if err := os.WriteFile(p.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write store file: %w", err)
	}
	return nil
}

// Load implements Provider.
func (p *FileProvider[T]) Load(_ context.Context) (T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var value T
	data, err := os.ReadFile(p.path)
	if err != nil {
		return value, fmt.Errorf("failed to read store file: %w", err)
	}
	if err := json.Unmarshal(data, &value); err != nil {
		return value, fmt.Errorf("failed to unmarshal store value: %w", err)
	}
	return value, nil
}

// IsPresent implements Provider.
func (p *FileProvider[T]) IsPresent(_ context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, err := os.Stat(p.path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}
