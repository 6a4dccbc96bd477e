// Package confsync reacts to configuration compiler events and keeps the
// entity registry and its derived caches consistent.
package confsync

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/vigilmon/vigil/internal/downtime"
	"github.com/vigilmon/vigil/internal/objects"
)

// Object types carried by compiler events.
const (
	TypeHost    = "Host"
	TypeService = "Service"
)

// Event is an "object committed" or "object removed" notification from
// the external configuration compiler.
type Event struct {
	Type string
	Name string
}

// ValidationError ties a failed service reference to a source location.
// The compiler collects these instead of aborting compilation.
type ValidationError struct {
	Location string
	Name     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: service '%s' not found", e.Location, e.Name)
}

// InvalidConfigurationError reports a malformed configuration fragment.
type InvalidConfigurationError struct {
	Location string
	Reason   string
}

func (e *InvalidConfigurationError) Error() string {
	if e.Location == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration at %s: %s", e.Location, e.Reason)
}

// TemplateSource resolves service template names to declarations. The
// configuration compiler owns templates; the bridge only consults them.
type TemplateSource interface {
	ServiceTemplate(name string) (objects.ServiceDecl, bool)
}

// Bridge applies compiler events to the registry. It synthesizes the
// convenience services declared inline on hosts and owns their lifecycle:
// each host commit fully replaces that host's synthesized set, and a host
// removal drops it entirely.
type Bridge struct {
	Registry  *objects.Registry
	Downtimes *downtime.Manager
	Groups    *objects.GroupCache
	Templates TemplateSource // may be nil
	Log       *zap.Logger

	// mu serializes synthesized-set swaps. The set lives here rather
	// than on the Host object so it survives the host pointer being
	// replaced by a re-commit.
	mu          sync.Mutex
	convenience map[string]map[string]struct{} // host name -> synthesized service names
}

// NewBridge creates a bridge over the given registry and caches.
func NewBridge(reg *objects.Registry, dm *downtime.Manager, groups *objects.GroupCache, log *zap.Logger) *Bridge {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bridge{
		Registry:    reg,
		Downtimes:   dm,
		Groups:      groups,
		Log:         log,
		convenience: make(map[string]map[string]struct{}),
	}
}

// ObjectCommitted handles an "object committed" event. For hosts it
// re-derives the synthesized services: the new set is built and
// registered first, then every previously synthesized service absent
// from it is unregistered, then the new set is stored. That ordering
// leaves no window in which a surviving service exists under neither
// generation.
func (b *Bridge) ObjectCommitted(ev Event) error {
	if ev.Type != TypeHost {
		return nil
	}

	// Abstract (template-only) hosts never reach the registry.
	host, err := b.Registry.Host(ev.Name)
	if err != nil {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	newSet := make(map[string]struct{}, len(host.ServiceDecls))
	for key, decl := range host.ServiceDecls {
		svc := b.synthesize(host, key, decl)
		b.Registry.RegisterService(svc)
		newSet[svc.Name] = struct{}{}
		b.Log.Debug("synthesized service",
			zap.String("host", host.Name), zap.String("service", svc.Name))
	}

	for name := range b.convenience[ev.Name] {
		if _, keep := newSet[name]; !keep {
			b.Registry.UnregisterService(name)
			b.Log.Debug("unregistered stale synthesized service",
				zap.String("host", host.Name), zap.String("service", name))
		}
	}
	b.convenience[ev.Name] = newSet

	if b.Downtimes != nil {
		b.Downtimes.Invalidate()
	}
	if b.Groups != nil {
		b.Groups.Invalidate()
	}
	return nil
}

// ObjectRemoved handles an "object removed" event. Host removal drops
// every synthesized service unconditionally, then the host itself, so
// the name becomes reusable with no derived state left behind.
func (b *Bridge) ObjectRemoved(ev Event) {
	switch ev.Type {
	case TypeHost:
		b.mu.Lock()
		for name := range b.convenience[ev.Name] {
			b.Registry.UnregisterService(name)
		}
		delete(b.convenience, ev.Name)
		b.mu.Unlock()

		b.Registry.UnregisterHost(ev.Name)
		if b.Downtimes != nil {
			b.Downtimes.Invalidate()
		}
	case TypeService:
		b.Registry.UnregisterService(ev.Name)
	}
}

// AttributeChanged invalidates the cache derived from the changed
// attribute.
func (b *Bridge) AttributeChanged(attr string) {
	switch attr {
	case "hostgroups":
		if b.Groups != nil {
			b.Groups.Invalidate()
		}
	case "downtimes":
		if b.Downtimes != nil {
			b.Downtimes.Invalidate()
		}
	}
}

// synthesize builds one convenience service from its declaration. The
// declaration's parent template applies first, then the host's
// inheritable attributes, then the declaration's own overrides. Caller
// holds b.mu.
func (b *Bridge) synthesize(host *objects.Host, key string, decl objects.ServiceDecl) *objects.Service {
	name := host.Name + "-" + key
	svc := &objects.Service{
		Name:     name,
		Alias:    key,
		HostName: host.Name,
		Macros:   make(map[string]string),
	}
	svc.EnableFlapping = true

	parent := decl.Service
	if parent == "" {
		parent = key
	}
	if b.Templates != nil {
		if tmpl, ok := b.Templates.ServiceTemplate(parent); ok {
			applyDecl(svc, tmpl)
		}
	}

	applyDecl(svc, objects.ServiceDecl{
		Macros:        host.Macros,
		CheckInterval: host.CheckInterval,
		RetryInterval: host.RetryInterval,
		Checkers:      host.Checkers,
	})
	applyDecl(svc, decl)

	// A re-commit replaces the Service object; carry the runtime state
	// over so flapping history and acknowledgements survive it.
	if old, err := b.Registry.Service(name); err == nil {
		copyRuntimeState(&old.Checkable, &svc.Checkable)
	}
	return svc
}

// applyDecl layers one declaration onto a service: macros and group
// memberships merge, scalar attributes overwrite when set.
func applyDecl(svc *objects.Service, d objects.ServiceDecl) {
	for k, v := range d.Macros {
		svc.Macros[k] = v
	}
	if d.CheckInterval != 0 {
		svc.CheckInterval = d.CheckInterval
	}
	if d.RetryInterval != 0 {
		svc.RetryInterval = d.RetryInterval
	}
	if len(d.ServiceGroups) != 0 {
		svc.Groups = mergeNames(svc.Groups, d.ServiceGroups)
	}
	if len(d.Checkers) != 0 {
		svc.Checkers = append([]string(nil), d.Checkers...)
	}
}

func mergeNames(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, lists := range [][]string{base, extra} {
		for _, n := range lists {
			if _, dup := seen[n]; dup {
				continue
			}
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}
	return out
}

func copyRuntimeState(old, cur *objects.Checkable) {
	old.Mu.Lock()
	defer old.Mu.Unlock()
	cur.State = old.State
	cur.StateType = old.StateType
	cur.LastCheckResult = old.LastCheckResult
	cur.EnableFlapping = old.EnableFlapping
	cur.Flapping = old.Flapping
	cur.FlappingBuffer = old.FlappingBuffer
	cur.FlappingIndex = old.FlappingIndex
	cur.FlappingCurrent = old.FlappingCurrent
	cur.FlappingLastChange = old.FlappingLastChange
	cur.Acknowledgement = old.Acknowledgement
	cur.AcknowledgementExpiry = old.AcknowledgementExpiry
	cur.Downtimes = old.Downtimes
	cur.Comments = old.Comments
}

// ValidateServiceRefs checks an attribute map whose values purport to
// reference services. A value references a service by bare name, by a
// mapping with an explicit "service" key, or by the map key as fallback.
// One error is reported per unresolved reference; the compiler surfaces
// them without interrupting compilation.
func (b *Bridge) ValidateServiceRefs(location string, attrs map[string]objects.ServiceDecl) []error {
	if location == "" {
		return []error{&InvalidConfigurationError{Reason: "missing argument: location must be specified"}}
	}
	if attrs == nil {
		return []error{&InvalidConfigurationError{Location: location, Reason: "missing argument: attribute map must be specified"}}
	}

	var errs []error
	for key, decl := range attrs {
		name := decl.Service
		if name == "" {
			name = key
		}
		if !b.Registry.ServiceExists(name) {
			errs = append(errs, &ValidationError{Location: location, Name: name})
		}
	}
	return errs
}
