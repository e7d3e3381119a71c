package keyring

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/nkiryanov/fiscalos/internal/apperrors"
)

const (
	BackendFile = "file"
	BackendS3   = "s3"
)

// Key ring settings, usually read from a YAML file watched for changes
type Options struct {
	// Key used to wrap new data keys
	PrimaryKeyID string `yaml:"primary_key_id"`

	// Where keys live: "file" (default) or "s3"
	Backend string `yaml:"backend"`

	// Directory with <key id>.key files. Relative to the options file
	KeysDir string `yaml:"keys_dir,omitempty"`

	S3 S3Options `yaml:"s3,omitempty"`
}

type S3Options struct {
	// Custom endpoint for S3 compatible storages (MinIO); empty means AWS
	Endpoint string `yaml:"endpoint,omitempty"`
	Region   string `yaml:"region,omitempty"`
	Bucket   string `yaml:"bucket,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`

	// Static credentials. Default AWS credential chain is used when empty
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
}

func (o Options) Validate() error {
	switch o.Backend {
	case BackendFile:
		if o.KeysDir == "" {
			return fmt.Errorf("%w: keys_dir is required for file backend", apperrors.ErrConfiguration)
		}
	case BackendS3:
		if o.S3.Bucket == "" {
			return fmt.Errorf("%w: s3.bucket is required for s3 backend", apperrors.ErrConfiguration)
		}
		if o.S3.Region == "" {
			return fmt.Errorf("%w: s3.region is required for s3 backend", apperrors.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown key ring backend %q", apperrors.ErrConfiguration, o.Backend)
	}

	return nil
}

// LoadOptions reads options from YAML file
func LoadOptions(path string) (Options, error) {
	var opts Options

	data, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("%w: can't read key ring options. Err: %w", apperrors.ErrConfiguration, err)
	}

	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("%w: can't parse key ring options %s. Err: %w", apperrors.ErrConfiguration, path, err)
	}

	if opts.Backend == "" {
		opts.Backend = BackendFile
	}
	if opts.KeysDir != "" && !filepath.IsAbs(opts.KeysDir) {
		opts.KeysDir = filepath.Join(filepath.Dir(path), opts.KeysDir)
	}

	return opts, opts.Validate()
}

// SaveOptions replaces options file. Write goes through a temp file and rename,
// so a watcher never reads a half written file.
func SaveOptions(path string, opts Options) error {
	data, err := yaml.Marshal(opts)
	if err != nil {
		return fmt.Errorf("error while encoding key ring options. Err: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".keyring-*.yaml")
	if err != nil {
		return fmt.Errorf("error while saving key ring options. Err: %w", err)
	}
	defer os.Remove(tmp.Name()) // nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("error while saving key ring options. Err: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error while saving key ring options. Err: %w", err)
	}

	return os.Rename(tmp.Name(), path)
}
