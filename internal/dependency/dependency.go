// Package dependency resolves parent relationships and reachability
// between monitored entities.
package dependency

import (
	"time"

	"github.com/vigilmon/vigil/internal/objects"
)

// Resolver answers dependency and reachability queries against the
// registry. It holds no state of its own, so queries may run from any
// number of goroutines.
type Resolver struct {
	Registry *objects.Registry
}

// NewResolver creates a resolver over the given registry.
func NewResolver(reg *objects.Registry) *Resolver {
	return &Resolver{Registry: reg}
}

// ResolveService resolves a service reference in the context of a host.
// The host-scoped name "<host>-<name>" is tried first, then the bare
// name. Flat and host-scoped names may collide, so the order matters.
func (r *Resolver) ResolveService(h *objects.Host, name string) (*objects.Service, error) {
	combined := h.Name + "-" + name
	if r.Registry.ServiceExists(combined) {
		return r.Registry.Service(combined)
	}
	return r.Registry.Service(name)
}

// ParentHosts returns the hosts the given host declares dependencies on.
// A host listing itself is ignored; a dependency whose target no longer
// exists is skipped rather than failing the whole query.
func (r *Resolver) ParentHosts(h *objects.Host) []*objects.Host {
	parents := make([]*objects.Host, 0, len(h.HostDependencies))
	for name := range h.HostDependencies {
		if name == h.Name {
			continue
		}
		parent, err := r.Registry.Host(name)
		if err != nil {
			continue
		}
		parents = append(parents, parent)
	}
	return parents
}

// ParentServices returns the services the given host declares
// dependencies on, resolved host-scoped first. Unresolved references are
// skipped.
func (r *Resolver) ParentServices(h *objects.Host) []*objects.Service {
	parents := make([]*objects.Service, 0, len(h.ServiceDependencies))
	for name := range h.ServiceDependencies {
		svc, err := r.ResolveService(h, name)
		if err != nil {
			continue
		}
		parents = append(parents, svc)
	}
	return parents
}

// IsReachable reports whether the host's own monitoring result should be
// trusted given its parents. A parent service blocks reachability only
// once it has produced a check result and sits in a hard state that is
// neither OK nor Warning; pending services and soft problems are ignored.
// A parent host blocks reachability when it is not up.
func (r *Resolver) IsReachable(h *objects.Host) bool {
	for _, svc := range r.ParentServices(h) {
		if !svc.HasBeenChecked() {
			continue
		}
		state, stateType := svc.CurrentState()
		if stateType == objects.StateTypeSoft {
			continue
		}
		if state == objects.StateOK || state == objects.StateWarning {
			continue
		}
		return false
	}

	for _, parent := range r.ParentHosts(h) {
		if r.IsUp(parent) {
			continue
		}
		return false
	}

	return true
}

// IsUp reports whether the host is up. A host without host-check services
// is always up; otherwise every resolved host-check service must be in
// OK or Warning.
func (r *Resolver) IsUp(h *objects.Host) bool {
	for _, name := range h.HostChecks {
		svc, err := r.ResolveService(h, name)
		if err != nil {
			continue
		}
		state, _ := svc.CurrentState()
		if state != objects.StateOK && state != objects.StateWarning {
			return false
		}
	}
	return true
}

// IsInDowntime reports whether any downtime attached to the entity is
// currently active.
func (r *Resolver) IsInDowntime(c *objects.Checkable) bool {
	now := time.Now()
	c.Mu.Lock()
	defer c.Mu.Unlock()
	for _, d := range c.Downtimes {
		if d.IsActive(now) {
			return true
		}
	}
	return false
}
