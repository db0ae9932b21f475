package experiment

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/san-kum/propsim/internal/config"
	"github.com/san-kum/propsim/internal/dynamo"
	"github.com/san-kum/propsim/internal/physics"
	"github.com/san-kum/propsim/internal/propulsion"
	"github.com/san-kum/propsim/internal/storage"
)

// Registry resolves propeller models and drivetrain variants by name.
// Surrogate propellers come from the repository it was built with.
type Registry struct {
	repo        storage.Repository
	propellers  map[string]func(cfg *config.Config) (dynamo.Explicit, error)
	drivetrains map[string]func(*config.Config, dynamo.Explicit, *slog.Logger) (*propulsion.Drivetrain, error)
}

func NewRegistry(repo storage.Repository) *Registry {
	r := &Registry{
		repo:        repo,
		propellers:  make(map[string]func(*config.Config) (dynamo.Explicit, error)),
		drivetrains: make(map[string]func(*config.Config, dynamo.Explicit, *slog.Logger) (*propulsion.Drivetrain, error)),
	}

	r.propellers[config.PropAnalytic] = func(cfg *config.Config) (dynamo.Explicit, error) {
		return propulsion.AnalyticPropeller(cfg.Prop.Coefficients)
	}
	r.propellers[config.PropSurrogate] = r.surrogatePropeller

	r.drivetrains[config.VariantElectric] = propulsion.NewElectricPropulsion
	r.drivetrains[config.VariantRubber] = propulsion.NewRubberElectricPropulsion

	return r
}

func (r *Registry) surrogatePropeller(cfg *config.Config) (dynamo.Explicit, error) {
	if r.repo == nil {
		return nil, fmt.Errorf("%w: no model repository for propeller %q", dynamo.ErrSurrogateFit, cfg.Prop.ID)
	}
	b, ok, err := r.repo.Load(cfg.Prop.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no trained propeller %q", dynamo.ErrSurrogateFit, cfg.Prop.ID)
	}
	p, err := physics.NewSurrogatePropeller(b)
	if err != nil {
		return nil, err
	}
	p.Clamp = cfg.Prop.Clamp
	return p, nil
}

func (r *Registry) GetPropeller(cfg *config.Config) (dynamo.Explicit, error) {
	fn, ok := r.propellers[cfg.Prop.Model]
	if !ok {
		return nil, fmt.Errorf("unknown propeller model: %s", cfg.Prop.Model)
	}
	return fn(cfg)
}

// Build assembles a fresh drivetrain for cfg.
func (r *Registry) Build(cfg *config.Config, logger *slog.Logger) (*propulsion.Drivetrain, error) {
	prop, err := r.GetPropeller(cfg)
	if err != nil {
		return nil, err
	}
	return r.Drivetrain(cfg, prop, logger)
}

// Drivetrain assembles the cfg variant around an already resolved
// propeller. Propeller components hold no mutable state, so one may be
// shared by drivetrains on different goroutines.
func (r *Registry) Drivetrain(cfg *config.Config, prop dynamo.Explicit, logger *slog.Logger) (*propulsion.Drivetrain, error) {
	fn, ok := r.drivetrains[cfg.Variant]
	if !ok {
		return nil, fmt.Errorf("unknown variant: %s", cfg.Variant)
	}
	return fn(cfg, prop, logger)
}

func (r *Registry) ListPropellers() []string {
	return sortedKeys(r.propellers)
}

func (r *Registry) ListVariants() []string {
	return sortedKeys(r.drivetrains)
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
