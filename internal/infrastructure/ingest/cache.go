package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
)

// CachedSource serves the last loaded dataset until either CSV file changes
// size or modification time. The returned Dataset is shared and must not be
// modified by callers.
type CachedSource struct {
	src *CSVSource

	mu   sync.RWMutex
	key  string
	data *Dataset
}

// NewCachedSource wraps src.
func NewCachedSource(src *CSVSource) *CachedSource {
	return &CachedSource{src: src}
}

// Load returns the cached dataset or reloads it when the files changed.
func (c *CachedSource) Load(ctx context.Context) (*Dataset, error) {
	key, err := c.fingerprint()
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	if c.data != nil && c.key == key {
		data := c.data
		c.mu.RUnlock()
		return data, nil
	}
	c.mu.RUnlock()

	data, err := c.src.Load(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.key, c.data = key, data
	c.mu.Unlock()
	return data, nil
}

// Invalidate drops the cached dataset.
func (c *CachedSource) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.key, c.data = "", nil
}

func (c *CachedSource) fingerprint() (string, error) {
	a, err := stamp(c.src.StatementPath)
	if err != nil {
		return "", err
	}
	b, err := stamp(c.src.BankPath)
	if err != nil {
		return "", err
	}
	return a + "|" + b, nil
}

func stamp(path string) (string, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return "missing", nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d:%d", info.Size(), info.ModTime().UnixNano()), nil
}
