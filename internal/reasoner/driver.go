// Package reasoner routes reasoning tasks to pluggable backends and executes
// them with per-call timeouts, retries and a single fallback. Concrete
// transports live in internal/drivers and register themselves by backend
// type.
package reasoner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dairui1/vdt/internal/config"
	"github.com/dairui1/vdt/internal/fault"
	"github.com/dairui1/vdt/internal/logging"
	"github.com/dairui1/vdt/internal/model"
)

// ExecContext is the per-call environment handed to a driver.
type ExecContext struct {
	SessionDir string
	Timeout    time.Duration
	Redact     bool
}

// Driver executes one reasoner task against a backend. Implementations must
// honour ctx cancellation and return a normalised result.
type Driver interface {
	Execute(ctx context.Context, task model.ReasonerTask, ec ExecContext) (*model.ReasonerResult, error)
}

// Constructor builds a driver for the named backend.
type Constructor func(name string, cfg model.BackendConfig) (Driver, error)

var (
	mu           sync.RWMutex
	constructors = make(map[string]Constructor)
)

// RegisterDriver makes a transport available for backends of type typ. It
// panics if typ is already registered.
func RegisterDriver(typ string, c Constructor) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := constructors[typ]; exists {
		panic(fmt.Sprintf("reasoner: duplicate driver registration for %q", typ))
	}
	constructors[typ] = c
}

// DriverTypes returns the sorted backend types with a registered transport.
func DriverTypes() []string {
	mu.RLock()
	defer mu.RUnlock()
	types := make([]string, 0, len(constructors))
	for t := range constructors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func lookupConstructor(typ string) Constructor {
	mu.RLock()
	defer mu.RUnlock()
	return constructors[typ]
}

// Registry holds the drivers loaded for one backend configuration, keyed by
// backend name.
type Registry struct {
	mu       sync.RWMutex
	drivers  map[string]Driver
	failures map[string]error
	lookup   func(typ string) Constructor
	logger   *slog.Logger
}

// NewRegistry returns an empty registry that builds drivers from the
// globally registered transports.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		drivers:  make(map[string]Driver),
		failures: make(map[string]error),
		lookup:   lookupConstructor,
		logger:   logging.OrDefault(logger),
	}
}

// Load builds one driver per configured backend. Backends whose type has no
// transport, or whose constructor fails, are recorded as unavailable and
// returned as warnings; loading continues with the rest.
func (r *Registry) Load(cfg *config.Reasoners) []error {
	var warnings []error
	for _, name := range cfg.BackendNames() {
		bc := cfg.Backends[name]
		c := r.lookup(bc.Type)
		if c == nil {
			err := fault.New(fault.BackendUnavailable, "backend %s: unsupported type %q", name, bc.Type)
			r.fail(name, err)
			warnings = append(warnings, err)
			continue
		}
		d, err := c(name, bc)
		if err != nil {
			ferr := fault.Wrap(fault.BackendUnavailable, err, "backend %s", name)
			r.fail(name, ferr)
			warnings = append(warnings, ferr)
			continue
		}
		r.Add(name, d)
		r.logger.Debug("loaded reasoner driver", "backend", name, "type", bc.Type)
	}
	if r.Len() == 0 {
		r.logger.Warn("no reasoner drivers loaded")
	}
	return warnings
}

func (r *Registry) fail(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[name] = err
	r.logger.Warn("reasoner driver unavailable", "backend", name, "err", err)
}

// Add installs d under name, replacing any previous driver or failure.
func (r *Registry) Add(name string, d Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[name] = d
	delete(r.failures, name)
}

// Get returns the driver loaded for name.
func (r *Registry) Get(name string) (Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[name]
	return d, ok
}

// Failure returns why name could not be loaded, or nil.
func (r *Registry) Failure(name string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.failures[name]
}

// Names returns the sorted names of the loaded drivers.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of loaded drivers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.drivers)
}
