package service

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/kinship-app/kinship/internal/platform/logutil"
)

// CoreServices are built on every start, whether or not [services.<name>] is configured.
var CoreServices = []string{"api"}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]NewService)
)

// Register registers a service constructor by name. Usually called from init().
func Register(name string, newFunc NewService) error {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[name]; exists {
		return fmt.Errorf("service %q already registered", name)
	}
	registry[name] = newFunc
	return nil
}

// MustRegister is like Register but panics on error.
func MustRegister(name string, newFunc NewService) {
	if err := Register(name, newFunc); err != nil {
		panic(err)
	}
}

// Get returns the constructor for a registered service, or nil.
func Get(name string) NewService {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[name]
}

// RegisteredServices returns the registered names, sorted.
func RegisteredServices() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs the named services in order. If one fails, the ones
// already built are closed and the error is returned.
func Build(names []string, confs map[string]map[string]any, log *slog.Logger) ([]Service, error) {
	log = logutil.NoopIfNil(log)
	built := make([]Service, 0, len(names))
	for _, name := range names {
		newFunc := Get(name)
		if newFunc == nil {
			return nil, closeAll(built, fmt.Errorf("service %q is not registered", name))
		}
		svc, err := newFunc(confs[name], log.With("service", name))
		if err != nil {
			return nil, closeAll(built, fmt.Errorf("service %q: %w", name, err))
		}
		built = append(built, svc)
	}
	return built, nil
}

func closeAll(built []Service, cause error) error {
	errs := []error{cause}
	for i := len(built) - 1; i >= 0; i-- {
		if err := built[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// resetRegistry is for testing only.
func resetRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]NewService)
}
