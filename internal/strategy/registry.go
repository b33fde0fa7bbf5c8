// Package strategy keeps the versioned strategy configurations and the
// pointer to the live one.
package strategy

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"solana-momentum-bot-go/internal/models"
	"solana-momentum-bot-go/internal/persistence"

	"go.uber.org/zap"
)

// BaselineName is the name given to version 1.
const BaselineName = "rsi_volume_trend"

// ErrNoFallback is returned by Rollback when the active version has no parent.
var ErrNoFallback = errors.New("no fallback strategy version")

// Registry stores every version ever promoted. Versions are never deleted.
// Readers get the active config through an atomic pointer; writers are serialized.
type Registry struct {
	store  persistence.StrategyStore
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex // serializes Promote/Rollback
	versions []models.StrategyConfig
	active   atomic.Pointer[models.StrategyConfig]
}

// Load restores the registry from store. On first start version 1 is created
// from initial.
func Load(store persistence.StrategyStore, initial models.StrategyParams, logger *zap.Logger) (*Registry, error) {
	r := &Registry{store: store, logger: logger, now: time.Now}

	versions, err := store.LoadStrategies()
	if err != nil {
		return nil, fmt.Errorf("load strategies: %w", err)
	}
	r.versions = versions

	if len(versions) == 0 {
		baseline := models.StrategyConfig{
			Name:      BaselineName,
			Version:   1,
			Params:    initial,
			CreatedAt: r.now().UTC(),
		}
		if err := store.SaveStrategy(baseline); err != nil {
			return nil, fmt.Errorf("save baseline strategy: %w", err)
		}
		if err := store.SaveActiveVersion(1); err != nil {
			return nil, fmt.Errorf("save active strategy version: %w", err)
		}
		r.versions = []models.StrategyConfig{baseline}
		r.active.Store(&baseline)
		logger.Sugar().Infof("Created baseline strategy %s v1.", baseline.Name)
		return r, nil
	}

	version, err := store.LoadActiveVersion()
	if err != nil {
		return nil, fmt.Errorf("load active strategy version: %w", err)
	}
	if version == 0 {
		version = versions[len(versions)-1].Version
	}
	cfg, ok := r.find(version)
	if !ok {
		return nil, fmt.Errorf("active strategy version %d is not stored", version)
	}
	r.active.Store(&cfg)
	logger.Sugar().Infof("Restored %d strategy versions, active %s v%d (generation %d).", len(versions), cfg.Name, cfg.Version, cfg.Generation)
	return r, nil
}

// Active returns the live configuration.
func (r *Registry) Active() models.StrategyConfig {
	return *r.active.Load()
}

// Get returns a stored version.
func (r *Registry) Get(version int) (models.StrategyConfig, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.find(version)
}

// Versions returns every stored version, oldest first.
func (r *Registry) Versions() []models.StrategyConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.StrategyConfig, len(r.versions))
	copy(out, r.versions)
	return out
}

// Promote stores cfg as the next version and makes it active. The incumbent
// becomes its parent.
func (r *Registry) Promote(cfg models.StrategyConfig) (models.StrategyConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	incumbent := r.Active()
	cfg.Version = r.versions[len(r.versions)-1].Version + 1
	cfg.Parent = incumbent.Version
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = r.now().UTC()
	}

	if err := r.store.SaveStrategy(cfg); err != nil {
		return models.StrategyConfig{}, fmt.Errorf("save strategy v%d: %w", cfg.Version, err)
	}
	if err := r.store.SaveActiveVersion(cfg.Version); err != nil {
		return models.StrategyConfig{}, fmt.Errorf("activate strategy v%d: %w", cfg.Version, err)
	}
	r.versions = append(r.versions, cfg)
	r.active.Store(&cfg)

	r.logger.Sugar().Infof("Promoted strategy %s to v%d (parent v%d).", cfg.Name, cfg.Version, cfg.Parent)
	return cfg, nil
}

// Rollback reactivates the parent of the active version.
func (r *Registry) Rollback() (models.StrategyConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.Active()
	if current.Parent == 0 {
		return models.StrategyConfig{}, ErrNoFallback
	}
	parent, ok := r.find(current.Parent)
	if !ok {
		return models.StrategyConfig{}, fmt.Errorf("parent v%d of v%d: %w", current.Parent, current.Version, ErrNoFallback)
	}
	if err := r.store.SaveActiveVersion(parent.Version); err != nil {
		return models.StrategyConfig{}, fmt.Errorf("activate strategy v%d: %w", parent.Version, err)
	}
	r.active.Store(&parent)

	r.logger.Sugar().Warnf("Rolled back strategy v%d -> %s v%d.", current.Version, parent.Name, parent.Version)
	return parent, nil
}

func (r *Registry) find(version int) (models.StrategyConfig, bool) {
	for _, v := range r.versions {
		if v.Version == version {
			return v, true
		}
	}
	return models.StrategyConfig{}, false
}
