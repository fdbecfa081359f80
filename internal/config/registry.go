package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/hush/pkg/provider/level"
	"github.com/MrWong99/hush/pkg/provider/level/energy"
	"github.com/MrWong99/hush/pkg/provider/level/peak"
)

// ErrClassifierNotRegistered is returned by [Registry.CreateClassifier] when
// no factory has been registered under the requested name.
var ErrClassifierNotRegistered = errors.New("config: classifier not registered")

// ClassifierFactory builds a classifier from the detector settings.
type ClassifierFactory func(DetectorConfig) (level.Classifier, error)

// Registry maps classifier names to their constructor functions. It is safe
// for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	classifiers map[string]ClassifierFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		classifiers: make(map[string]ClassifierFactory),
	}
}

// NewDefaultRegistry returns a [Registry] holding the built-in classifiers.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterClassifier(energy.Name, func(DetectorConfig) (level.Classifier, error) {
		return energy.New(), nil
	})
	r.RegisterClassifier(peak.Name, func(DetectorConfig) (level.Classifier, error) {
		return peak.New(), nil
	})
	return r
}

// RegisterClassifier registers a classifier factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterClassifier(name string, factory ClassifierFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classifiers[name] = factory
}

// CreateClassifier instantiates the classifier registered under
// cfg.Classifier. Returns [ErrClassifierNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateClassifier(cfg DetectorConfig) (level.Classifier, error) {
	r.mu.RLock()
	factory, ok := r.classifiers[cfg.Classifier]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrClassifierNotRegistered, cfg.Classifier)
	}
	return factory(cfg)
}

// Classifiers returns the registered classifier names in sorted order.
func (r *Registry) Classifiers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.classifiers))
	for name := range r.classifiers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
