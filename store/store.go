// Package store provides the durable name→bundle persistence used by the
// predictors. Bundles are gob-encoded files written atomically, so a
// failed write can never corrupt a previously published bundle.
package store

import (
	"os"
	"path/filepath"
	"time"

	"github.com/aicrm/mlservice/core/model"
	"github.com/aicrm/mlservice/pkg/errors"
	"github.com/aicrm/mlservice/pkg/log"
)

// Config configures a FileStore.
type Config struct {
	// Dir is the directory holding bundle files.
	Dir string
}

// DefaultConfig stores bundles under ./models, mirroring the service's
// default model path.
func DefaultConfig() Config {
	return Config{Dir: "models"}
}

// Info describes a stored bundle for the status query.
type Info struct {
	Size         int64
	LastModified time.Time
}

// FileStore persists bundles as gob files under one directory.
type FileStore struct {
	dir    string
	logger log.Logger
}

// New creates the store directory if needed and returns a FileStore.
func New(cfg Config) (*FileStore, error) {
	if cfg.Dir == "" {
		cfg = DefaultConfig()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating store directory %s", cfg.Dir)
	}
	return &FileStore{
		dir:    cfg.Dir,
		logger: log.GetLoggerWithName("store"),
	}, nil
}

// Save writes the bundle under the given name. The bundle is staged to a
// temporary file and renamed into place so readers never observe a
// partial write.
func (s *FileStore) Save(name string, bundle interface{}) error {
	path := s.path(name)

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return errors.Wrapf(err, "staging bundle %s", name)
	}
	defer os.Remove(tmp.Name())

	if err := model.EncodeBundle(bundle, tmp); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "encoding bundle %s", name)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "closing staged bundle %s", name)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "publishing bundle %s", name)
	}

	s.logger.Info("bundle saved", "name", name, "path", path)
	return nil
}

// Load reads the named bundle into the given pointer. An absent bundle is
// not an error: Load returns (false, nil) and the caller falls back to
// not-trained semantics. Decode failures are reported and logged.
func (s *FileStore) Load(name string, into interface{}) (bool, error) {
	file, err := os.Open(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		s.logger.Warn("bundle read failed", "name", name, "error", err)
		return false, errors.Wrapf(err, "opening bundle %s", name)
	}
	defer file.Close()

	if err := model.DecodeBundle(into, file); err != nil {
		s.logger.Warn("bundle decode failed", "name", name, "error", err)
		return false, errors.Wrapf(err, "decoding bundle %s", name)
	}

	s.logger.Info("bundle loaded", "name", name)
	return true, nil
}

// Stat returns size and last-modified time of a stored bundle. The second
// return value is false when no bundle exists under the name.
func (s *FileStore) Stat(name string) (Info, bool, error) {
	fi, err := os.Stat(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return Info{}, false, nil
		}
		return Info{}, false, errors.Wrapf(err, "stat bundle %s", name)
	}
	return Info{Size: fi.Size(), LastModified: fi.ModTime()}, true, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name+".gob")
}
