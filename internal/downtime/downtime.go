// Package downtime implements scheduled downtime and comment records.
package downtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/vigilmon/vigil/internal/metrics"
)

// Comment entry types
const (
	UserCommentEntry            = 1
	DowntimeCommentEntry        = 2
	FlappingCommentEntry        = 3
	AcknowledgementCommentEntry = 4
)

// Downtime represents a scheduled downtime entry. Fixed downtimes are
// active exactly between StartTime and EndTime; flexible downtimes become
// active when triggered and stay active for Duration.
type Downtime struct {
	ID                 uint64
	EntityName         string
	EntryTime          time.Time
	StartTime          time.Time
	EndTime            time.Time
	Fixed              bool
	Duration           time.Duration
	TriggeredBy        uint64 // ID of triggering downtime, 0=none
	TriggerTime        time.Time
	IsInEffect         bool
	Author             string
	Comment            string
	CommentID          uint64
}

// IsActive reports whether the downtime window covers the given instant.
func (d *Downtime) IsActive(now time.Time) bool {
	if d.Fixed {
		return !now.Before(d.StartTime) && now.Before(d.EndTime)
	}
	if !d.IsInEffect || d.TriggerTime.IsZero() {
		return false
	}
	return now.Before(d.TriggerTime.Add(d.Duration))
}

// Comment is an annotation record attached to an entity.
type Comment struct {
	ID         uint64
	EntityName string
	EntryType  int
	EntryTime  time.Time
	Persistent bool
	Author     string
	Data       string
}

// Manager allocates downtime and comment ids and tracks all live records.
// The per-id index it keeps is a cache over the records attached to
// entities; Invalidate marks it stale and the next lookup revalidates by
// pruning ended downtimes.
type Manager struct {
	mu         sync.Mutex
	valid      bool
	downtimes  map[uint64]*Downtime
	comments   map[uint64]*Comment
	nextDownID atomic.Uint64
	nextComID  atomic.Uint64
}

// NewManager creates a Manager with ids starting at the given values.
// Retention restore passes the persisted counters so ids stay unique
// across restarts.
func NewManager(startDowntimeID, startCommentID uint64) *Manager {
	m := &Manager{
		valid:     true,
		downtimes: make(map[uint64]*Downtime),
		comments:  make(map[uint64]*Comment),
	}
	if startDowntimeID == 0 {
		startDowntimeID = 1
	}
	if startCommentID == 0 {
		startCommentID = 1
	}
	m.nextDownID.Store(startDowntimeID)
	m.nextComID.Store(startCommentID)
	return m
}

// Schedule registers a downtime entry and returns its id.
func (m *Manager) Schedule(d *Downtime) uint64 {
	id := m.nextDownID.Add(1) - 1
	d.ID = id
	if d.EntryTime.IsZero() {
		d.EntryTime = time.Now()
	}
	if d.Fixed {
		d.TriggerTime = d.StartTime
		d.IsInEffect = true
	}
	m.mu.Lock()
	m.downtimes[id] = d
	m.mu.Unlock()
	return id
}

// Trigger marks a flexible downtime as in effect from now, and triggers
// any downtimes chained onto it.
func (m *Manager) Trigger(id uint64, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.downtimes[id]
	if d == nil || d.IsInEffect {
		return
	}
	d.IsInEffect = true
	d.TriggerTime = now
	for _, other := range m.downtimes {
		if other.TriggeredBy == id && !other.IsInEffect {
			other.IsInEffect = true
			other.TriggerTime = now
		}
	}
}

// Remove deletes a downtime record by id.
func (m *Manager) Remove(id uint64) {
	m.mu.Lock()
	delete(m.downtimes, id)
	m.mu.Unlock()
}

// Get returns a downtime by id, or nil.
func (m *Manager) Get(id uint64) *Downtime {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validateLocked()
	return m.downtimes[id]
}

// All returns every live downtime record.
func (m *Manager) All() []*Downtime {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validateLocked()
	out := make([]*Downtime, 0, len(m.downtimes))
	for _, d := range m.downtimes {
		out = append(out, d)
	}
	return out
}

// Invalidate marks the downtime index stale. Cheap to call repeatedly.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.valid = false
	m.mu.Unlock()
}

// validateLocked prunes downtimes whose window has ended. Caller holds mu.
func (m *Manager) validateLocked() {
	if m.valid {
		return
	}
	now := time.Now()
	for id, d := range m.downtimes {
		if now.After(d.EndTime) && !d.IsActive(now) {
			delete(m.downtimes, id)
		}
	}
	m.valid = true
	metrics.CacheRebuilds.WithLabelValues("downtimes").Inc()
}

// AddComment registers a comment record and returns its id.
func (m *Manager) AddComment(c *Comment) uint64 {
	id := m.nextComID.Add(1) - 1
	c.ID = id
	if c.EntryTime.IsZero() {
		c.EntryTime = time.Now()
	}
	m.mu.Lock()
	m.comments[id] = c
	m.mu.Unlock()
	return id
}

// RemoveComment deletes a comment record by id.
func (m *Manager) RemoveComment(id uint64) {
	m.mu.Lock()
	delete(m.comments, id)
	m.mu.Unlock()
}

// Comments returns every live comment record.
func (m *Manager) Comments() []*Comment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Comment, 0, len(m.comments))
	for _, c := range m.comments {
		out = append(out, c)
	}
	return out
}

// NextIDs returns the next downtime and comment ids, for retention.
func (m *Manager) NextIDs() (downtimeID, commentID uint64) {
	return m.nextDownID.Load(), m.nextComID.Load()
}
