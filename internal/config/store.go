package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"council/internal/logging"
)

// ModelLister reports the model ids the backend actually serves. The
// backend package provides one; tests substitute their own.
type ModelLister func(ctx context.Context) ([]string, error)

// Store holds the dynamic council configuration. Environment variables
// are the source of truth at startup; the overlay file is authoritative
// only while its critical keys match the environment snapshot. Updates
// made through the API mutate both the cache and the overlay.
type Store struct {
	mu       sync.Mutex
	settings Settings
	cache    *Config
	lister   ModelLister
}

// NewStore creates a store bound to the settings' overlay file path.
// The first Get performs the environment/overlay resolution.
func NewStore(settings Settings, lister ModelLister) *Store {
	return &Store{settings: settings, lister: lister}
}

// Get returns a snapshot of the current configuration, loading it on
// first use.
func (s *Store) Get() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked().Clone()
}

// UpdateRequest carries the mutable fields of a configuration update.
// Nil fields are left unchanged.
type UpdateRequest struct {
	CouncilModels []string `json:"council_models"`
	ChairmanModel *string  `json:"chairman_model"`
}

// Update applies the request atomically, persists the overlay file and
// returns the new snapshot.
func (s *Store) Update(req UpdateRequest) Config {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.loadLocked().Clone()
	if req.CouncilModels != nil {
		cfg.CouncilModels = append([]string(nil), req.CouncilModels...)
	}
	if req.ChairmanModel != nil {
		cfg.ChairmanModel = *req.ChairmanModel
	}
	s.cache = &cfg
	s.saveLocked(cfg)
	logging.Log.WithField("config", cfg).Info("council configuration updated")
	return cfg.Clone()
}

// Reload drops the cache and re-resolves from the environment,
// rewriting the overlay to match.
func (s *Store) Reload() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = nil
	return s.loadLocked().Clone()
}

// Validate checks the given model ids against the backend's model list.
// When the backend cannot be reached the result is optimistically true
// for every id.
func (s *Store) Validate(ctx context.Context, models []string) map[string]bool {
	out := make(map[string]bool, len(models))
	if s.lister == nil {
		for _, m := range models {
			out[m] = true
		}
		return out
	}
	available, err := s.lister(ctx)
	if err != nil {
		logging.Log.WithError(err).Warn("model validation against backend failed, assuming available")
		for _, m := range models {
			out[m] = true
		}
		return out
	}
	known := make(map[string]struct{}, len(available))
	for _, id := range available {
		known[id] = struct{}{}
	}
	for _, m := range models {
		_, ok := known[m]
		out[m] = ok
	}
	return out
}

// loadLocked resolves the configuration. Callers must hold s.mu.
func (s *Store) loadLocked() Config {
	if s.cache != nil {
		return *s.cache
	}

	envCfg := fromEnv(s.settings)
	fileCfg, err := s.readOverlay()
	if err != nil {
		logging.Log.WithError(err).Warn("overlay file unreadable, using environment config")
	}

	switch {
	case fileCfg == nil:
		s.cache = &envCfg
		s.saveLocked(envCfg)
	case !criticalEqual(*fileCfg, envCfg):
		// Environment wins when its critical keys changed underneath
		// the overlay; rewrite the file to match.
		logging.Log.WithFields(map[string]interface{}{
			"file_models": fileCfg.CouncilModels,
			"env_models":  envCfg.CouncilModels,
		}).Info("environment config differs from overlay, environment wins")
		s.cache = &envCfg
		s.saveLocked(envCfg)
	default:
		s.cache = fileCfg
	}
	return *s.cache
}

func criticalEqual(a, b Config) bool {
	if a.ChairmanModel != b.ChairmanModel {
		return false
	}
	set := func(models []string) map[string]struct{} {
		out := make(map[string]struct{}, len(models))
		for _, m := range models {
			out[m] = struct{}{}
		}
		return out
	}
	as, bs := set(a.CouncilModels), set(b.CouncilModels)
	if len(as) != len(bs) {
		return false
	}
	for m := range as {
		if _, ok := bs[m]; !ok {
			return false
		}
	}
	return true
}

func (s *Store) readOverlay() (*Config, error) {
	data, err := os.ReadFile(s.settings.ConfigFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse overlay %s: %w", s.settings.ConfigFile, err)
	}
	return &cfg, nil
}

// saveLocked writes the overlay atomically (temp file + rename).
// Persistence failures are logged, never fatal: the in-memory cache is
// still authoritative for this process.
func (s *Store) saveLocked(cfg Config) {
	path := s.settings.ConfigFile
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		logging.Log.WithError(err).Error("create overlay directory failed")
		return
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		logging.Log.WithError(err).Error("marshal overlay failed")
		return
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		logging.Log.WithError(err).Error("write overlay temp file failed")
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		logging.Log.WithError(err).Error("rename overlay file failed")
	}
}
