package objects

import (
	"sync"

	"github.com/vigilmon/vigil/internal/metrics"
)

// NotFoundError is returned when a directly requested name does not
// resolve to a live entity. Lookups made while iterating bulk collections
// tolerate it by skipping; direct lookups propagate it.
type NotFoundError struct {
	Kind string // "host" or "service"
	Name string
}

func (e *NotFoundError) Error() string {
	return e.Kind + " '" + e.Name + "' does not exist"
}

// Registry is the process-wide table of named entities. Hosts and
// services live in separate namespaces; names are unique within each.
//
// Registration and unregistration fire the mutation hooks synchronously,
// after the structural change but before the call returns, so no reader
// observes a stale dependent cache once a mutation has completed. Hooks
// run outside the registry lock; they may take cache locks freely.
type Registry struct {
	mu       sync.RWMutex
	hosts    map[string]*Host
	services map[string]*Service
	hooks    []func()
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		hosts:    make(map[string]*Host),
		services: make(map[string]*Service),
	}
}

// OnMutate registers a hook invoked synchronously after every structural
// change. Hooks must be registered before the registry is shared.
func (r *Registry) OnMutate(fn func()) {
	r.hooks = append(r.hooks, fn)
}

func (r *Registry) notify() {
	hosts, services := r.Counts()
	metrics.RegistrySize.WithLabelValues("host").Set(float64(hosts))
	metrics.RegistrySize.WithLabelValues("service").Set(float64(services))
	for _, fn := range r.hooks {
		fn()
	}
}

// HostExists reports whether a host with the given name is registered.
func (r *Registry) HostExists(name string) bool {
	r.mu.RLock()
	_, ok := r.hosts[name]
	r.mu.RUnlock()
	return ok
}

// ServiceExists reports whether a service with the given name is registered.
func (r *Registry) ServiceExists(name string) bool {
	r.mu.RLock()
	_, ok := r.services[name]
	r.mu.RUnlock()
	return ok
}

// Host returns the host with the given name.
func (r *Registry) Host(name string) (*Host, error) {
	r.mu.RLock()
	h, ok := r.hosts[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{Kind: "host", Name: name}
	}
	return h, nil
}

// Service returns the service with the given name.
func (r *Registry) Service(name string) (*Service, error) {
	r.mu.RLock()
	s, ok := r.services[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{Kind: "service", Name: name}
	}
	return s, nil
}

// Hosts returns a snapshot of all registered hosts.
func (r *Registry) Hosts() []*Host {
	r.mu.RLock()
	out := make([]*Host, 0, len(r.hosts))
	for _, h := range r.hosts {
		out = append(out, h)
	}
	r.mu.RUnlock()
	return out
}

// Services returns a snapshot of all registered services.
func (r *Registry) Services() []*Service {
	r.mu.RLock()
	out := make([]*Service, 0, len(r.services))
	for _, s := range r.services {
		out = append(out, s)
	}
	r.mu.RUnlock()
	return out
}

// RegisterHost adds or replaces a host. Re-registering an existing name
// replaces the entry; configuration re-commits rely on that.
func (r *Registry) RegisterHost(h *Host) {
	r.mu.Lock()
	r.hosts[h.Name] = h
	r.mu.Unlock()
	r.notify()
}

// RegisterService adds or replaces a service.
func (r *Registry) RegisterService(s *Service) {
	r.mu.Lock()
	r.services[s.Name] = s
	r.mu.Unlock()
	r.notify()
}

// UnregisterHost removes a host by name. Removing an absent name is a
// no-op and fires no hooks.
func (r *Registry) UnregisterHost(name string) {
	r.mu.Lock()
	_, ok := r.hosts[name]
	delete(r.hosts, name)
	r.mu.Unlock()
	if ok {
		r.notify()
	}
}

// UnregisterService removes a service by name.
func (r *Registry) UnregisterService(name string) {
	r.mu.Lock()
	_, ok := r.services[name]
	delete(r.services, name)
	r.mu.Unlock()
	if ok {
		r.notify()
	}
}

// Counts returns the number of registered hosts and services.
func (r *Registry) Counts() (hosts, services int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hosts), len(r.services)
}
