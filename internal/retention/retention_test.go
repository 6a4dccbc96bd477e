package retention

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vigilmon/vigil/internal/downtime"
	"github.com/vigilmon/vigil/internal/objects"
)

func TestRetentionRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retention.dat")

	reg := objects.NewRegistry()
	h := &objects.Host{Name: "web-01"}
	h.EnableFlapping = true
	h.Flapping = true
	h.FlappingBuffer = 0x5A5A5
	h.FlappingIndex = 13
	h.FlappingCurrent = 42.5
	h.FlappingLastChange = time.Unix(1700000000, 0)
	h.Acknowledgement = objects.AckSticky
	h.AcknowledgementExpiry = time.Unix(1800000000, 0)
	reg.RegisterHost(h)

	s := &objects.Service{Name: "web-01-http", HostName: "web-01"}
	s.FlappingBuffer = 0x00F0F
	s.FlappingIndex = 4
	reg.RegisterService(s)

	dm := downtime.NewManager(7, 3)
	globals := objects.DefaultGlobals()
	globals.EnableFlapping = false

	w := &Writer{Path: path, Registry: reg, Globals: globals, Downtimes: dm, Version: "test"}
	if err := w.Write(); err != nil {
		t.Fatal(err)
	}

	// Restore into a fresh registry holding the same entities.
	reg2 := objects.NewRegistry()
	reg2.RegisterHost(&objects.Host{Name: "web-01"})
	reg2.RegisterService(&objects.Service{Name: "web-01-http", HostName: "web-01"})
	globals2 := objects.DefaultGlobals()

	r := &Reader{Path: path, Registry: reg2, Globals: globals2}
	if err := r.Read(); err != nil {
		t.Fatal(err)
	}

	if globals2.EnableFlapping {
		t.Error("global flap flag not restored")
	}
	if r.NextDowntimeID != 7 || r.NextCommentID != 3 {
		t.Errorf("id counters not restored, got %d/%d", r.NextDowntimeID, r.NextCommentID)
	}

	h2, _ := reg2.Host("web-01")
	if !h2.Flapping || h2.FlappingBuffer != 0x5A5A5 || h2.FlappingIndex != 13 {
		t.Errorf("flapping state not restored: %+v", &h2.Checkable)
	}
	if h2.FlappingCurrent != 42.5 {
		t.Errorf("flapping value not restored, got %v", h2.FlappingCurrent)
	}
	if !h2.FlappingLastChange.Equal(time.Unix(1700000000, 0)) {
		t.Error("flapping last change not restored")
	}
	if h2.Acknowledgement != objects.AckSticky ||
		!h2.AcknowledgementExpiry.Equal(time.Unix(1800000000, 0)) {
		t.Error("acknowledgement not restored")
	}

	s2, _ := reg2.Service("web-01-http")
	if s2.FlappingBuffer != 0x00F0F || s2.FlappingIndex != 4 {
		t.Error("service flapping state not restored")
	}
}

func TestReadMissingFileIsNotAnError(t *testing.T) {
	r := &Reader{
		Path:     filepath.Join(t.TempDir(), "absent.dat"),
		Registry: objects.NewRegistry(),
		Globals:  objects.DefaultGlobals(),
	}
	if err := r.Read(); err != nil {
		t.Errorf("missing retention file must be tolerated, got %v", err)
	}
}

func TestReadSkipsUnknownEntitiesAndClampsValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retention.dat")
	raw := `info {
created=1700000000
version=test
}

host {
name=gone-host
is_flapping=1
}

host {
name=web-01
some_future_key=whatever
flapping_buffer=99999999
flapping_index=25
acknowledgement_type=9
}
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	reg := objects.NewRegistry()
	reg.RegisterHost(&objects.Host{Name: "web-01"})

	r := &Reader{Path: path, Registry: reg, Globals: objects.DefaultGlobals()}
	if err := r.Read(); err != nil {
		t.Fatal(err)
	}

	h, _ := reg.Host("web-01")
	if h.FlappingBuffer&^uint32(objects.FlapBufferMask) != 0 {
		t.Errorf("buffer not clamped to 20 bits: %x", h.FlappingBuffer)
	}
	if h.FlappingIndex != 0 {
		t.Errorf("out-of-range index must reset to 0, got %d", h.FlappingIndex)
	}
	if h.Acknowledgement != objects.AckNone {
		t.Errorf("out-of-range ack type must reset, got %v", h.Acknowledgement)
	}
}
