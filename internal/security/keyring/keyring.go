// Package keyring keeps named root keys and resolves the primary one.
//
// Readers work with an immutable snapshot swapped atomically on every reload,
// so a lookup never sees a half built index.
package keyring

import (
	"context"
	"encoding/base64"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/nkiryanov/fiscalos/internal/apperrors"
	"github.com/nkiryanov/fiscalos/internal/logger"
	"github.com/nkiryanov/fiscalos/internal/security/aescipher"
)

// Entry is a named root key. Key holds base64 encoded key material
type Entry struct {
	KeyID string
	Key   string
}

// Decoded key material. Caller owns the returned slice and should wipe it
func (e Entry) Bytes() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(e.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: key %q is not base64", apperrors.ErrCrypto, e.KeyID)
	}
	if len(raw) != aescipher.KeySize {
		return nil, fmt.Errorf("%w: key %q has %d bytes, want %d", apperrors.ErrCrypto, e.KeyID, len(raw), aescipher.KeySize)
	}
	return raw, nil
}

// Opens backing store described by options
type StoreOpener func(ctx context.Context, opts Options) (Store, error)

type snapshot struct {
	opts    Options
	store   Store
	entries map[string]Entry
}

type Ring struct {
	// Serializes reloads and saves. Readers never take it
	mu sync.Mutex

	state  atomic.Pointer[snapshot]
	open   StoreOpener
	logger logger.Logger
}

type Option func(*Ring)

// Use custom store instead of the one described by Options.Backend
func WithStoreOpener(open StoreOpener) Option {
	return func(r *Ring) {
		r.open = open
	}
}

func New(ctx context.Context, opts Options, l logger.Logger, options ...Option) (*Ring, error) {
	r := &Ring{
		open:   OpenStore,
		logger: l,
	}
	for _, o := range options {
		o(r)
	}

	if err := r.Reload(ctx, opts); err != nil {
		return nil, err
	}

	return r, nil
}

// Reload scans the store described by opts and replaces the whole index.
// Bad entries are skipped; on error the current index is kept.
func (r *Ring) Reload(ctx context.Context, opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	store, err := r.open(ctx, opts)
	if err != nil {
		return fmt.Errorf("error while opening key store. Err: %w", err)
	}

	stored, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("error while listing keys. Err: %w", err)
	}

	entries := make(map[string]Entry, len(stored))
	for _, s := range stored {
		entry := Entry{KeyID: s.KeyID, Key: strings.TrimSpace(s.Key)}

		switch {
		case s.Err != nil:
			r.logger.Warn("key skipped: read failed", "key_id", s.KeyID, "error", s.Err)
			continue
		case entry.Key == "":
			r.logger.Warn("key skipped: empty", "key_id", s.KeyID)
			continue
		}

		if _, err := entry.Bytes(); err != nil {
			r.logger.Warn("key skipped: malformed", "key_id", s.KeyID, "error", err)
			continue
		}

		entries[entry.KeyID] = entry
	}

	r.state.Store(&snapshot{opts: opts, store: store, entries: entries})

	l := r.logger.With("backend", opts.Backend, "keys", len(entries), "primary_key_id", opts.PrimaryKeyID)
	if _, ok := entries[opts.PrimaryKeyID]; !ok {
		l.Warn("key ring loaded without primary key")
		return nil
	}
	l.Info("key ring loaded")

	return nil
}

func (r *Ring) GetKey(keyID string) (Entry, error) {
	entry, ok := r.state.Load().entries[keyID]
	if !ok {
		return Entry{}, fmt.Errorf("key %q: %w", keyID, apperrors.ErrKeyNotFound)
	}
	return entry, nil
}

func (r *Ring) GetPrimaryKey() (Entry, error) {
	snap := r.state.Load()
	if snap.opts.PrimaryKeyID == "" {
		return Entry{}, fmt.Errorf("%w: primary key id is not set", apperrors.ErrConfiguration)
	}

	entry, ok := snap.entries[snap.opts.PrimaryKeyID]
	if !ok {
		return Entry{}, fmt.Errorf("primary key %q: %w", snap.opts.PrimaryKeyID, apperrors.ErrKeyNotFound)
	}
	return entry, nil
}

// SaveKey stores raw key material under a new id. Primary key is not changed
func (r *Ring) SaveKey(ctx context.Context, raw []byte) (Entry, error) {
	if len(raw) != aescipher.KeySize {
		return Entry{}, fmt.Errorf("%w: key must be %d bytes", apperrors.ErrCrypto, aescipher.KeySize)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.state.Load()
	entry := Entry{
		KeyID: uuid.NewString(),
		Key:   base64.StdEncoding.EncodeToString(raw),
	}

	if err := current.store.Save(ctx, entry.KeyID, entry.Key); err != nil {
		return Entry{}, fmt.Errorf("error while saving key %q. Err: %w", entry.KeyID, err)
	}

	entries := maps.Clone(current.entries)
	entries[entry.KeyID] = entry
	r.state.Store(&snapshot{opts: current.opts, store: current.store, entries: entries})

	r.logger.Info("key saved", "key_id", entry.KeyID)

	return entry, nil
}

// Sorted ids of loaded keys
func (r *Ring) KeyIDs() []string {
	return slices.Sorted(maps.Keys(r.state.Load().entries))
}

// Options the current index was loaded with
func (r *Ring) Options() Options {
	return r.state.Load().opts
}
