package backends

import (
	"fmt"
	"sort"
	"strings"

	dserrors "github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/pkg/backend"
)

// Registry manages backend creation and registration.
type Registry struct {
	factories map[string]Factory
}

// Factory creates a backend from its settings block.
type Factory func(cfg map[string]interface{}, opts ...Option) (backend.Backend, error)

// NewRegistry creates a registry with the built-in backends.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}

	r.Register("bitwarden", func(cfg map[string]interface{}, opts ...Option) (backend.Backend, error) {
		return NewBitwarden(cfg, opts...), nil
	})
	onePassword := func(cfg map[string]interface{}, opts ...Option) (backend.Backend, error) {
		return NewOnePassword(cfg, opts...), nil
	}
	r.Register("1password", onePassword)
	r.Register("onepassword", onePassword)
	r.Register("pass", func(cfg map[string]interface{}, opts ...Option) (backend.Backend, error) {
		return NewPass(cfg, opts...), nil
	})
	r.Register("aws.secretsmanager", func(cfg map[string]interface{}, opts ...Option) (backend.Backend, error) {
		return NewAWSSecretsManager(cfg, opts...), nil
	})

	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(id string, factory Factory) {
	r.factories[id] = factory
}

// Create instantiates the backend registered under id. WithCallTimeout wraps
// the result with WithTimeout.
func (r *Registry) Create(id string, cfg map[string]interface{}, opts ...Option) (backend.Backend, error) {
	factory, ok := r.factories[id]
	if !ok {
		return nil, dserrors.ConfigError{
			Field:      "backend",
			Value:      id,
			Message:    "unknown backend",
			Suggestion: fmt.Sprintf("Set VAULTSYNC_BACKEND to one of: %s", strings.Join(r.SupportedTypes(), ", ")),
		}
	}

	if cfg == nil {
		cfg = map[string]interface{}{}
	}
	b, err := factory(cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("create backend %q: %w", id, err)
	}

	if o := buildOptions(opts); o.timeout > 0 {
		b = WithTimeout(b, o.timeout)
	}
	return b, nil
}

// SupportedTypes returns the registered identifiers, sorted.
func (r *Registry) SupportedTypes() []string {
	types := make([]string, 0, len(r.factories))
	for id := range r.factories {
		types = append(types, id)
	}
	sort.Strings(types)
	return types
}

// IsSupported checks if a backend identifier is registered.
func (r *Registry) IsSupported(id string) bool {
	_, ok := r.factories[id]
	return ok
}
