package core

import (
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"periodcore/pkg/domain"
)

// ErrUnknownKind is returned when a kind has no registered model.
var ErrUnknownKind = domain.ErrUnknownKind

// KindSpec is the parsed form of "name[:granularity[:gapless]]".
type KindSpec struct {
	Kind    domain.Kind
	Options ModelOptions
}

// ParseKindSpec parses a kind declaration such as
// "employee_assignment:day:gapless" or "shift:second".
func ParseKindSpec(raw string) (KindSpec, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	name := strings.TrimSpace(parts[0])
	if name == "" {
		return KindSpec{}, errors.Newf("kind spec %q: empty kind name", raw)
	}
	spec := KindSpec{Kind: domain.Kind(name), Options: ModelOptions{Timeline: domain.DateTimeline()}}
	if len(parts) > 1 {
		g, err := domain.ParseGranularity(parts[1])
		if err != nil {
			return KindSpec{}, errors.Wrapf(err, "kind spec %q", raw)
		}
		if g == domain.GranularitySecond {
			spec.Options.Timeline = domain.DateTimeTimeline()
		}
	}
	for _, flag := range parts[min(len(parts), 2):] {
		switch strings.ToLower(strings.TrimSpace(flag)) {
		case "gapless":
			spec.Options.Gapless = true
		case "":
		default:
			return KindSpec{}, errors.Newf("kind spec %q: unknown flag %q", raw, flag)
		}
	}
	return spec, nil
}

// Registry maps period kinds to their models.
type Registry struct {
	mu     sync.RWMutex
	models map[domain.Kind]*Model
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{models: make(map[domain.Kind]*Model)}
}

// RegistryFromSpecs registers every kind spec in order.
func RegistryFromSpecs(specs []string, opts ...func(*ModelOptions)) (*Registry, error) {
	reg := NewRegistry()
	for _, raw := range specs {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		spec, err := ParseKindSpec(raw)
		if err != nil {
			return nil, err
		}
		for _, opt := range opts {
			opt(&spec.Options)
		}
		if _, err := reg.Register(spec.Kind, spec.Options); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Register adds a model for kind. Registering a kind twice is an error.
func (r *Registry) Register(kind domain.Kind, opts ModelOptions) (*Model, error) {
	if kind == "" {
		return nil, errors.New("register: empty kind")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.models[kind]; exists {
		return nil, errors.Newf("register: kind %s already registered", kind)
	}
	m := NewModel(kind, opts)
	r.models[kind] = m
	return m, nil
}

// Model returns the model registered for kind.
func (r *Registry) Model(kind domain.Kind) (*Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[kind]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownKind, "%q", string(kind))
	}
	return m, nil
}

// Kinds lists the registered kinds in lexical order.
func (r *Registry) Kinds() []domain.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Kind, 0, len(r.models))
	for k := range r.models {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RulesEngine builds the commit-time rules for the registered kinds: the
// non-overlap rule plus coverage warnings for gapless kinds.
func (r *Registry) RulesEngine() *domain.RulesEngine {
	engine := domain.NewDefaultRulesEngine()
	r.mu.RLock()
	defer r.mu.RUnlock()
	gapless := make(map[domain.Kind]domain.Timeline)
	for kind, m := range r.models {
		if m.gapless {
			gapless[kind] = m.timeline
		}
	}
	if len(gapless) > 0 {
		engine.Register(domain.GaplessCoverageRule(gapless))
	}
	return engine
}
