package downtime

import (
	"testing"
	"time"
)

func TestFixedDowntimeWindow(t *testing.T) {
	now := time.Now()
	d := &Downtime{
		Fixed:     true,
		StartTime: now.Add(-time.Hour),
		EndTime:   now.Add(time.Hour),
	}
	if !d.IsActive(now) {
		t.Error("expected active inside the window")
	}
	if d.IsActive(now.Add(-2 * time.Hour)) {
		t.Error("active before start")
	}
	if d.IsActive(now.Add(time.Hour)) {
		t.Error("active at end; the window is half-open")
	}
}

func TestFlexibleDowntimeNeedsTrigger(t *testing.T) {
	now := time.Now()
	m := NewManager(0, 0)
	id := m.Schedule(&Downtime{
		EntityName: "web-01",
		StartTime:  now.Add(-time.Minute),
		EndTime:    now.Add(time.Hour),
		Duration:   30 * time.Minute,
	})

	d := m.Get(id)
	if d.IsActive(now) {
		t.Fatal("untriggered flexible downtime must be inactive")
	}

	m.Trigger(id, now)
	if !d.IsActive(now.Add(29 * time.Minute)) {
		t.Error("triggered downtime should cover its duration")
	}
	if d.IsActive(now.Add(31 * time.Minute)) {
		t.Error("triggered downtime should end after its duration")
	}
}

func TestTriggerChainsDependentDowntimes(t *testing.T) {
	now := time.Now()
	m := NewManager(0, 0)
	parent := m.Schedule(&Downtime{
		StartTime: now,
		EndTime:   now.Add(time.Hour),
		Duration:  time.Hour,
	})
	child := m.Schedule(&Downtime{
		StartTime:   now,
		EndTime:     now.Add(time.Hour),
		Duration:    time.Hour,
		TriggeredBy: parent,
	})

	m.Trigger(parent, now)
	if !m.Get(child).IsInEffect {
		t.Error("triggering a downtime must trigger the ones chained onto it")
	}
}

func TestScheduleAssignsMonotonicIDs(t *testing.T) {
	m := NewManager(10, 5)
	a := m.Schedule(&Downtime{EndTime: time.Now().Add(time.Hour)})
	b := m.Schedule(&Downtime{EndTime: time.Now().Add(time.Hour)})
	if a != 10 || b != 11 {
		t.Errorf("expected ids 10,11 got %d,%d", a, b)
	}

	c := m.AddComment(&Comment{EntityName: "web-01", Data: "note"})
	if c != 5 {
		t.Errorf("expected comment id 5, got %d", c)
	}
	did, cid := m.NextIDs()
	if did != 12 || cid != 6 {
		t.Errorf("unexpected next ids %d,%d", did, cid)
	}
}

func TestInvalidatePrunesEndedDowntimes(t *testing.T) {
	now := time.Now()
	m := NewManager(0, 0)
	ended := m.Schedule(&Downtime{
		Fixed:     true,
		StartTime: now.Add(-2 * time.Hour),
		EndTime:   now.Add(-time.Hour),
	})
	live := m.Schedule(&Downtime{
		Fixed:     true,
		StartTime: now.Add(-time.Hour),
		EndTime:   now.Add(time.Hour),
	})

	// Until invalidated, the index is trusted as-is.
	if len(m.All()) != 2 {
		t.Fatalf("expected 2 downtimes before invalidation")
	}

	m.Invalidate()
	all := m.All()
	if len(all) != 1 || all[0].ID != live {
		t.Errorf("expected only the live downtime after revalidation, got %d", len(all))
	}
	if m.Get(ended) != nil {
		t.Error("ended downtime still resolvable")
	}
}

func TestCommentLifecycle(t *testing.T) {
	m := NewManager(0, 0)
	id := m.AddComment(&Comment{
		EntityName: "web-01",
		EntryType:  AcknowledgementCommentEntry,
		Author:     "ops",
		Data:       "acknowledged during maintenance",
	})
	if len(m.Comments()) != 1 {
		t.Fatal("comment not stored")
	}
	m.RemoveComment(id)
	if len(m.Comments()) != 0 {
		t.Error("comment not removed")
	}
}
