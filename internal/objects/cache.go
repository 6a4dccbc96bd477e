package objects

import (
	"sync"

	"github.com/vigilmon/vigil/internal/metrics"
)

// ServiceCache is a lazily rebuilt index mapping host name to the services
// that belong to it. Invalidate marks it stale in O(1); the first lookup
// after that rebuilds the whole index from a registry snapshot and swaps
// it in atomically, so concurrent readers see either the fully-old or
// fully-new index, never a mix.
//
// Membership is weak: the index holds service names, and every lookup
// re-resolves them through the registry, silently dropping entries whose
// target has been unregistered in the meantime.
type ServiceCache struct {
	reg *Registry

	mu     sync.Mutex
	valid  bool
	byHost map[string][]string
}

// NewServiceCache creates a cache over the given registry and wires its
// invalidation into the registry's mutation hooks.
func NewServiceCache(reg *Registry) *ServiceCache {
	c := &ServiceCache{reg: reg}
	reg.OnMutate(c.Invalidate)
	return c
}

// Invalidate marks the cache stale. Safe to call any number of times.
func (c *ServiceCache) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}

// ServicesForHost returns the live services declared on the given host,
// rebuilding the index first if it is stale.
func (c *ServiceCache) ServicesForHost(hostName string) []*Service {
	c.mu.Lock()
	if !c.valid {
		c.rebuildLocked()
	}
	names := c.byHost[hostName]
	c.mu.Unlock()

	out := make([]*Service, 0, len(names))
	for _, name := range names {
		if svc, err := c.reg.Service(name); err == nil {
			out = append(out, svc)
		}
	}
	return out
}

// rebuildLocked scans all live services once and regroups them by host
// name. Caller holds mu.
func (c *ServiceCache) rebuildLocked() {
	byHost := make(map[string][]string)
	for _, svc := range c.reg.Services() {
		byHost[svc.HostName] = append(byHost[svc.HostName], svc.Name)
	}
	c.byHost = byHost
	c.valid = true
	metrics.CacheRebuilds.WithLabelValues("services").Inc()
}

// GroupCache is the same lazy index pattern applied to host group
// membership: group name to member host names.
type GroupCache struct {
	reg *Registry

	mu      sync.Mutex
	valid   bool
	byGroup map[string][]string
}

// NewGroupCache creates a group-members cache over the given registry.
func NewGroupCache(reg *Registry) *GroupCache {
	c := &GroupCache{reg: reg}
	reg.OnMutate(c.Invalidate)
	return c
}

// Invalidate marks the cache stale.
func (c *GroupCache) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}

// Members returns the live hosts belonging to the given group.
func (c *GroupCache) Members(group string) []*Host {
	c.mu.Lock()
	if !c.valid {
		c.rebuildLocked()
	}
	names := c.byGroup[group]
	c.mu.Unlock()

	out := make([]*Host, 0, len(names))
	for _, name := range names {
		if h, err := c.reg.Host(name); err == nil {
			out = append(out, h)
		}
	}
	return out
}

func (c *GroupCache) rebuildLocked() {
	byGroup := make(map[string][]string)
	for _, h := range c.reg.Hosts() {
		for _, g := range h.Groups {
			byGroup[g] = append(byGroup[g], h.Name)
		}
	}
	c.byGroup = byGroup
	c.valid = true
	metrics.CacheRebuilds.WithLabelValues("groups").Inc()
}
