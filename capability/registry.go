package capability

import (
	"errors"
	"fmt"

	"github.com/becomeliminal/nim-finagent/core"
)

// Registry collects providers before startup completes.
type Registry struct {
	set      Set
	resolved bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register assigns provider to every capability interface it implements.
// A provider implementing none of them is an error. Later registrations
// replace earlier ones for the same capability.
func (r *Registry) Register(provider any) error {
	if r.resolved {
		return fmt.Errorf("register after resolve")
	}

	matched := false
	if p, ok := provider.(ResourceMetadata); ok {
		r.set.Metadata = p
		matched = true
	}
	if p, ok := provider.(ResourceCommit); ok {
		r.set.Commit = p
		matched = true
	}
	if p, ok := provider.(SecureExecution); ok {
		r.set.Secure = p
		matched = true
	}
	if p, ok := provider.(RiskScorer); ok {
		r.set.Risk = p
		matched = true
	}
	if !matched {
		return fmt.Errorf("provider %T implements no capability", provider)
	}
	return nil
}

// MustRegister is Register for static wiring; it panics on error.
func (r *Registry) MustRegister(providers ...any) *Registry {
	for _, p := range providers {
		if err := r.Register(p); err != nil {
			panic(err)
		}
	}
	return r
}

// Resolve freezes the registry and returns the capability set. It fails
// with ErrCapabilityUnavailable naming every missing required capability.
func (r *Registry) Resolve() (Set, error) {
	var errs []error
	if r.set.Metadata == nil {
		errs = append(errs, &core.CapabilityError{Name: NameMetadata})
	}
	if r.set.Commit == nil {
		errs = append(errs, &core.CapabilityError{Name: NameCommit})
	}
	if len(errs) > 0 {
		return Set{}, errors.Join(errs...)
	}
	r.resolved = true
	return r.set, nil
}
