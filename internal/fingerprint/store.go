package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/corona10/goimagehash"
	"github.com/zombor/leaksniff/internal/reference"
)

// ErrTimeout is returned when hashing an image takes longer than the store's timeout
var ErrTimeout = errors.New("image hashing timed out")

// DefaultTimeout bounds decoding and hashing of a single image
const DefaultTimeout = 30 * time.Second

// Store computes and caches fingerprints for a library of reference images
type Store struct {
	library reference.Library
	cache   Cache
	hashFn  HashFunc
	timeout time.Duration
}

// Option configures a Store
type Option func(*Store)

// WithHashFunc replaces the perceptual hash function
func WithHashFunc(fn HashFunc) Option {
	return func(s *Store) {
		s.hashFn = fn
	}
}

// WithTimeout bounds each decode+hash operation
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.timeout = d
	}
}

// NewStore creates a Store over library. A nil cache disables caching across builds.
func NewStore(library reference.Library, cache Cache, opts ...Option) *Store {
	s := &Store{
		library: library,
		cache:   cache,
		hashFn:  PerceptionHash,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Build fingerprints every image in the library. Files that cannot be read, decoded or hashed
// are logged and left out; they never fail the build. Unchanged files are served from the cache.
func (s *Store) Build(ctx context.Context) (References, error) {
	entries, err := s.library.List()
	if err != nil {
		return nil, fmt.Errorf("building reference hashes: %w", err)
	}

	refs := make(References, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		hash, err := s.referenceHash(ctx, entry)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			slog.Warn("Skipping reference image", "file", entry.Name, "error", err)
			continue
		}
		refs[entry.Name] = hash
	}

	slog.Debug("Built reference hashes", "dir", s.library.Dir(), "count", len(refs))
	return refs, nil
}

func (s *Store) referenceHash(ctx context.Context, entry reference.Entry) (*goimagehash.ImageHash, error) {
	path := filepath.Join(s.library.Dir(), entry.Name)

	if s.cache != nil {
		rec, ok, err := s.cache.Get(path)
		if err != nil {
			slog.Warn("Reading fingerprint cache", "file", entry.Name, "error", err)
		} else if ok && rec.Fresh(entry.Size, entry.ModTime) {
			return rec.ImageHash(), nil
		}
	}

	data, err := s.library.Get(entry.Name)
	if err != nil {
		return nil, err
	}
	hash, err := s.HashImage(ctx, data)
	if err != nil {
		return nil, err
	}
	slog.Debug("Hashed reference image", "file", entry.Name, "hash", hash.ToString())

	if s.cache != nil {
		err := s.cache.Put(Record{
			Path:    path,
			Size:    entry.Size,
			ModTime: entry.ModTime,
			Hash:    hash.GetHash(),
			Kind:    hash.GetKind(),
		})
		if err != nil {
			slog.Warn("Writing fingerprint cache", "file", entry.Name, "error", err)
		}
	}
	return hash, nil
}

// HashImage decodes and fingerprints raw image bytes, giving up after the store's timeout
func (s *Store) HashImage(ctx context.Context, data []byte) (*goimagehash.ImageHash, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type result struct {
		hash *goimagehash.ImageHash
		err  error
	}
	done := make(chan result, 1)
	go func() {
		hash, err := decodeAndHash(data, s.hashFn)
		done <- result{hash: hash, err: err}
	}()

	select {
	case r := <-done:
		return r.hash, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}
