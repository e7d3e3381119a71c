package keyring

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const keyFileExt = ".key"

// Key as read from a store. Err is set when this key could not be read
type StoredKey struct {
	KeyID string
	Key   string
	Err   error
}

// Backing storage: one opaque unit (file, object) per key id
type Store interface {
	// Return every key found. Unreadable keys are reported with Err, not as List error
	List(ctx context.Context) ([]StoredKey, error)

	// Persist new key; must not overwrite existing one
	Save(ctx context.Context, keyID string, key string) error
}

// OpenStore opens store for options backend
func OpenStore(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case BackendFile:
		return NewFileStore(opts.KeysDir)
	case BackendS3:
		return NewS3Store(ctx, opts.S3)
	default:
		return nil, opts.Validate()
	}
}

const (
	filePermissions fs.FileMode = 0o600
	dirPermissions  fs.FileMode = 0o700
)

// FileStore keeps keys as <dir>/<key id>.key
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("error while creating keys directory. Err: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) List(ctx context.Context) ([]StoredKey, error) {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	keys := make([]StoredKey, 0, len(files))
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != keyFileExt {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.dir, f.Name()))
		keys = append(keys, StoredKey{
			KeyID: strings.TrimSuffix(f.Name(), keyFileExt),
			Key:   string(data),
			Err:   err,
		})
	}

	return keys, ctx.Err()
}

func (s *FileStore) Save(_ context.Context, keyID string, key string) error {
	path := filepath.Join(s.dir, keyID+keyFileExt)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePermissions)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("key %q already exists", keyID)
		}
		return err
	}

	if _, err := f.WriteString(key); err != nil {
		_ = f.Close()
		return err
	}

	return f.Close()
}
