// Package textcache persists OCR output for reference images as a JSON object
// mapping file name to extracted text.
package textcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/zombor/leaksniff/internal/ocr"
	"github.com/zombor/leaksniff/internal/reference"
)

// FileName is the conventional cache file name inside a reference directory
const FileName = "ocr_texts.json"

// Extractor extracts text from image bytes
type Extractor interface {
	Extract(ctx context.Context, data []byte, contentType string) ocr.Text
}

// Cache is a file-backed map of reference file name to OCR text.
// Entries are only ever added; an empty string records an image with no text.
type Cache struct {
	path string

	// syncMu serializes Sync and Rebuild; mu guards entries and file writes
	syncMu  sync.Mutex
	mu      sync.RWMutex
	entries map[string]string
}

// New returns an empty cache backed by path without reading it
func New(path string) *Cache {
	return &Cache{path: path, entries: map[string]string{}}
}

// Open loads the cache at path. A missing file yields an empty cache.
func Open(path string) (*Cache, error) {
	c := New(path)
	if err := c.Load(); err != nil {
		return nil, err
	}
	return c, nil
}

// Path returns the backing file
func (c *Cache) Path() string {
	return c.path
}

// Load replaces the in-memory entries with the file contents
func (c *Cache) Load() error {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		c.mu.Lock()
		c.entries = map[string]string{}
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading text cache: %w", err)
	}

	entries := map[string]string{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parsing text cache %s: %w", c.path, err)
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
	return nil
}

// Save writes all entries to disk
func (c *Cache) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.writeLocked()
}

// writeLocked writes to a temp file and renames it over the cache so readers
// never observe a partial file. Callers hold mu.
func (c *Cache) writeLocked() error {
	data, err := json.MarshalIndent(c.entries, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding text cache: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".ocr_texts-*.json")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing text cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing text cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("replacing text cache: %w", err)
	}
	return nil
}

// Get returns the cached text for name
func (c *Cache) Get(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	text, ok := c.entries[name]
	return text, ok
}

// Len returns the number of entries, including empty ones
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Entries returns a copy of every entry
func (c *Cache) Entries() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

// Texts returns a copy of the entries with non-empty text, the usable reference texts
func (c *Cache) Texts() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.entries))
	for k, v := range c.entries {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// Sync OCRs every library image missing from the cache and writes the file
// if anything was added. An image that cannot be read or recognized is
// recorded as "" so it is not OCR'd again.
func (c *Cache) Sync(ctx context.Context, lib reference.Library, extractor Extractor) (int, error) {
	entries, err := lib.List()
	if err != nil {
		return 0, fmt.Errorf("syncing text cache: %w", err)
	}

	// OCR runs without holding mu so readers are not blocked behind it
	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	c.mu.RLock()
	var missing []string
	for _, entry := range entries {
		if _, ok := c.entries[entry.Name]; !ok {
			missing = append(missing, entry.Name)
		}
	}
	c.mu.RUnlock()

	found := make(map[string]string, len(missing))
	var cause error
	for _, name := range missing {
		if err := ctx.Err(); err != nil {
			cause = err
			break
		}
		text := c.extract(ctx, lib, extractor, name)
		if err := ctx.Err(); err != nil {
			cause = err
			break
		}
		found[name] = text
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	added := 0
	for name, text := range found {
		if _, ok := c.entries[name]; ok {
			continue
		}
		c.entries[name] = text
		added++
	}

	if err := c.finishSync(added, cause); err != nil {
		return added, err
	}
	if added > 0 {
		slog.Info("Updated text cache", "path", c.path, "added", added, "total", len(c.entries))
	}
	return added, nil
}

// finishSync persists partial progress before returning cause. Callers hold mu.
func (c *Cache) finishSync(added int, cause error) error {
	if added > 0 {
		if err := c.writeLocked(); err != nil {
			return errors.Join(cause, err)
		}
	}
	return cause
}

func (c *Cache) extract(ctx context.Context, lib reference.Library, extractor Extractor, name string) string {
	data, err := lib.Get(name)
	if err != nil {
		slog.Warn("Unreadable reference image, caching empty text", "file", name, "error", err)
		return ""
	}

	text := extractor.Extract(ctx, data, "")
	switch text.State {
	case ocr.StateFailed:
		slog.Warn("OCR failed for reference image, caching empty text", "file", name, "error", text.Err)
		return ""
	case ocr.StateAbsent:
		slog.Debug("No text in reference image", "file", name)
	}
	return text.Value
}

// Rebuild discards all entries, OCRs every library image and overwrites the file
func (c *Cache) Rebuild(ctx context.Context, lib reference.Library, extractor Extractor) (int, error) {
	entries, err := lib.List()
	if err != nil {
		return 0, fmt.Errorf("rebuilding text cache: %w", err)
	}

	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	fresh := make(map[string]string, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		text := c.extract(ctx, lib, extractor, entry.Name)
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		fresh[entry.Name] = text
		slog.Info("Extracted text", "file", entry.Name, "chars", len(text))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = fresh
	if err := c.writeLocked(); err != nil {
		return 0, err
	}
	return len(fresh), nil
}
