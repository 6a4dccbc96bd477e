// Package objects defines the monitored entity model and the process-wide
// registry that everything else resolves names through.
package objects

import (
	"fmt"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vigilmon/vigil/internal/downtime"
)

// State constants
const (
	StateOK       = 0
	StateWarning  = 1
	StateCritical = 2
	StateUnknown  = 3

	StateTypeSoft = 0
	StateTypeHard = 1

	// FlapHistorySize is the number of state-change observations kept in
	// the circular flapping buffer.
	FlapHistorySize = 20
)

// FlapBufferMask masks the flapping buffer to its 20 significant bits.
const FlapBufferMask = 1<<FlapHistorySize - 1

// AckType describes how a problem state was acknowledged.
type AckType int

const (
	AckNone AckType = iota
	AckNormal
	AckSticky
)

// Default flapping thresholds, applied when an entity does not set its own.
const (
	DefaultFlappingThresholdLow  = 25.0
	DefaultFlappingThresholdHigh = 30.0
)

// CheckResult is the outcome of one plugin execution, produced by the
// external check-execution subsystem. An entity with a nil LastCheckResult
// is pending: it has never been checked.
type CheckResult struct {
	State         int
	Output        string
	PerfData      string
	ScheduleStart time.Time
	ScheduleEnd   time.Time
	ExecutionTime float64
	Latency       float64
}

// Globals holds process-wide runtime switches. These act as static
// configuration, not runtime signals: nothing in the engine watches them
// for changes mid-operation.
type Globals struct {
	EnableFlapping bool
	ProgramStart   time.Time
}

// DefaultGlobals returns Globals with everything enabled.
func DefaultGlobals() *Globals {
	return &Globals{
		EnableFlapping: true,
		ProgramStart:   time.Now(),
	}
}

// Checkable carries the runtime state shared by hosts and services.
//
// Mu serializes flapping-buffer and acknowledgement updates on this entity
// only; cross-entity operations never take more than one entity lock.
// Structural mutation (adding or removing entities) is serialized by the
// Registry instead.
type Checkable struct {
	Mu sync.Mutex

	State           int
	StateType       int
	LastCheckResult *CheckResult

	// Flap detection state. The buffer is an integer bitmask holding the
	// last 20 state-change observations; the index is the next write
	// position, 0-19.
	EnableFlapping        bool
	Flapping              bool
	FlappingBuffer        uint32
	FlappingIndex         int
	FlappingCurrent       float64
	FlappingLastChange    time.Time
	FlappingThresholdLow  float64
	FlappingThresholdHigh float64

	Acknowledgement       AckType
	AcknowledgementExpiry time.Time

	Downtimes map[uint64]*downtime.Downtime
	Comments  map[uint64]*downtime.Comment
}

// HasBeenChecked reports whether at least one check result has arrived.
func (c *Checkable) HasBeenChecked() bool {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	return c.LastCheckResult != nil
}

// ApplyCheckResult stores a check result and the hard/soft state it produced.
func (c *Checkable) ApplyCheckResult(cr *CheckResult, stateType int) {
	c.Mu.Lock()
	c.LastCheckResult = cr
	c.State = cr.State
	c.StateType = stateType
	c.Mu.Unlock()
}

// CurrentState returns the state and state type under the entity lock.
func (c *Checkable) CurrentState() (state, stateType int) {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	return c.State, c.StateType
}

// AddDowntime attaches a downtime record to this entity.
func (c *Checkable) AddDowntime(d *downtime.Downtime) {
	c.Mu.Lock()
	if c.Downtimes == nil {
		c.Downtimes = make(map[uint64]*downtime.Downtime)
	}
	c.Downtimes[d.ID] = d
	c.Mu.Unlock()
}

// RemoveDowntime detaches a downtime record by id.
func (c *Checkable) RemoveDowntime(id uint64) {
	c.Mu.Lock()
	delete(c.Downtimes, id)
	c.Mu.Unlock()
}

// AddComment attaches a comment record to this entity.
func (c *Checkable) AddComment(cm *downtime.Comment) {
	c.Mu.Lock()
	if c.Comments == nil {
		c.Comments = make(map[uint64]*downtime.Comment)
	}
	c.Comments[cm.ID] = cm
	c.Mu.Unlock()
}

// RemoveComment detaches a comment record by id.
func (c *Checkable) RemoveComment(id uint64) {
	c.Mu.Lock()
	delete(c.Comments, id)
	c.Mu.Unlock()
}

// Host is a monitored host. Relations to other entities (dependencies,
// host checks, inline services) are stored as names and resolved through
// the Registry at query time, so a concurrently deleted target fails a
// lookup cleanly instead of dangling.
type Host struct {
	Checkable

	Name    string
	Alias   string
	Address string
	Groups  []string

	Macros        map[string]string
	CheckInterval float64
	RetryInterval float64
	Checkers      []string

	// HostChecks names the services whose states decide IsUp. Each name
	// resolves host-scoped ("<host>-<name>") first, then bare.
	HostChecks []string

	// Dependency maps, keyed by the referenced entity name. The value is
	// a free-form note carried from configuration; only the key matters
	// for reachability.
	HostDependencies    map[string]string
	ServiceDependencies map[string]string

	// ServiceDecls are the inline convenience-service declarations from
	// this host's configuration. The Config Change Bridge owns the
	// Service objects synthesized from them.
	ServiceDecls map[string]ServiceDecl
}

// DisplayName returns the alias, falling back to the host name.
func (h *Host) DisplayName() string {
	if h.Alias != "" {
		return h.Alias
	}
	return h.Name
}

// Service is a monitored service. Service names are process-wide unique;
// synthesized services use the "<host>-<alias>" convention.
type Service struct {
	Checkable

	Name     string
	Alias    string
	HostName string
	Groups   []string

	Macros        map[string]string
	CheckInterval float64
	RetryInterval float64
	Checkers      []string
}

// ServiceDecl is one inline service declaration on a host. In YAML it is
// either a bare scalar naming an existing service template, or a mapping
// with an optional "service" parent (defaulting to the declaration key)
// and attribute overrides.
type ServiceDecl struct {
	Service       string            `yaml:"service"`
	Macros        map[string]string `yaml:"macros"`
	CheckInterval float64           `yaml:"check_interval"`
	RetryInterval float64           `yaml:"retry_interval"`
	ServiceGroups []string          `yaml:"servicegroups"`
	Checkers      []string          `yaml:"checkers"`
}

// UnmarshalYAML accepts the scalar and mapping forms of a declaration.
func (d *ServiceDecl) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		d.Service = value.Value
		return nil
	case yaml.MappingNode:
		type plain ServiceDecl
		return value.Decode((*plain)(d))
	default:
		return fmt.Errorf("line %d: service description must be either a string or a mapping", value.Line)
	}
}

// StateName returns the display name for a state.
func StateName(state int) string {
	switch state {
	case StateOK:
		return "OK"
	case StateWarning:
		return "WARNING"
	case StateCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// StateTypeName returns "HARD" or "SOFT".
func StateTypeName(st int) string {
	if st == StateTypeHard {
		return "HARD"
	}
	return "SOFT"
}

// AckTypeName returns the display name for an acknowledgement type.
func AckTypeName(t AckType) string {
	switch t {
	case AckNormal:
		return "NORMAL"
	case AckSticky:
		return "STICKY"
	default:
		return "NONE"
	}
}
