// Package retention persists per-entity runtime state across restarts.
// Only primary state is written: flapping buffer/index/value/flag and
// acknowledgement type/expiry. Caches are derived and never persisted.
package retention

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/vigilmon/vigil/internal/downtime"
	"github.com/vigilmon/vigil/internal/objects"
)

// Writer writes the retention file.
type Writer struct {
	Path      string
	Registry  *objects.Registry
	Globals   *objects.Globals
	Downtimes *downtime.Manager
	Version   string
}

// Write atomically replaces the retention file. The temp file is created
// alongside the target so the rename never crosses filesystems.
func (w *Writer) Write() error {
	dir := filepath.Dir(w.Path)
	tmp, err := os.CreateTemp(dir, "retention.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	var b strings.Builder

	b.WriteString("info {\n")
	fmt.Fprintf(&b, "created=%d\n", time.Now().Unix())
	fmt.Fprintf(&b, "version=%s\n", w.Version)
	b.WriteString("}\n\n")

	b.WriteString("program {\n")
	fmt.Fprintf(&b, "enable_flapping=%s\n", boolStr(w.Globals.EnableFlapping))
	if w.Downtimes != nil {
		did, cid := w.Downtimes.NextIDs()
		fmt.Fprintf(&b, "next_downtime_id=%d\n", did)
		fmt.Fprintf(&b, "next_comment_id=%d\n", cid)
	}
	b.WriteString("}\n\n")

	for _, h := range w.Registry.Hosts() {
		b.WriteString("host {\n")
		fmt.Fprintf(&b, "name=%s\n", h.Name)
		writeCheckable(&b, &h.Checkable)
		b.WriteString("}\n\n")
	}

	for _, s := range w.Registry.Services() {
		b.WriteString("service {\n")
		fmt.Fprintf(&b, "name=%s\n", s.Name)
		fmt.Fprintf(&b, "host_name=%s\n", s.HostName)
		writeCheckable(&b, &s.Checkable)
		b.WriteString("}\n\n")
	}

	if _, err := tmp.WriteString(b.String()); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	tmp = nil
	return os.Rename(tmpName, w.Path)
}

func writeCheckable(b *strings.Builder, c *objects.Checkable) {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	fmt.Fprintf(b, "flap_detection_enabled=%s\n", boolStr(c.EnableFlapping))
	fmt.Fprintf(b, "is_flapping=%s\n", boolStr(c.Flapping))
	fmt.Fprintf(b, "flapping_buffer=%d\n", c.FlappingBuffer&objects.FlapBufferMask)
	fmt.Fprintf(b, "flapping_index=%d\n", c.FlappingIndex)
	fmt.Fprintf(b, "flapping_current=%f\n", c.FlappingCurrent)
	fmt.Fprintf(b, "flapping_last_change=%d\n", unixOrZero(c.FlappingLastChange))
	fmt.Fprintf(b, "acknowledgement_type=%d\n", int(c.Acknowledgement))
	fmt.Fprintf(b, "acknowledgement_expiry=%d\n", unixOrZero(c.AcknowledgementExpiry))
}

func boolStr(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// Reader restores persisted state onto entities already present in the
// registry. Blocks naming unknown entities and unknown keys are skipped,
// so a retention file from an older configuration loads cleanly.
type Reader struct {
	Path     string
	Registry *objects.Registry
	Globals  *objects.Globals

	// Populated from the program section for the caller to seed the
	// downtime manager with.
	NextDowntimeID uint64
	NextCommentID  uint64
}

// Read parses the retention file. A missing file is not an error.
func (r *Reader) Read() error {
	f, err := os.Open(r.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open retention file: %w", err)
	}
	defer f.Close()

	var (
		section string
		attrs   map[string]string
	)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasSuffix(line, "{") {
			section = strings.TrimSpace(strings.TrimSuffix(line, "{"))
			attrs = make(map[string]string)
			continue
		}
		if line == "}" {
			r.applySection(section, attrs)
			section = ""
			continue
		}
		if section == "" {
			continue
		}
		if k, v, ok := strings.Cut(line, "="); ok {
			attrs[k] = v
		}
	}
	return scanner.Err()
}

func (r *Reader) applySection(section string, attrs map[string]string) {
	switch section {
	case "program":
		if v, ok := attrs["enable_flapping"]; ok {
			r.Globals.EnableFlapping = v == "1"
		}
		r.NextDowntimeID = parseUint(attrs["next_downtime_id"])
		r.NextCommentID = parseUint(attrs["next_comment_id"])
	case "host":
		h, err := r.Registry.Host(attrs["name"])
		if err != nil {
			return
		}
		applyCheckable(&h.Checkable, attrs)
	case "service":
		s, err := r.Registry.Service(attrs["name"])
		if err != nil {
			return
		}
		applyCheckable(&s.Checkable, attrs)
	}
}

func applyCheckable(c *objects.Checkable, attrs map[string]string) {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	for k, v := range attrs {
		switch k {
		case "flap_detection_enabled":
			c.EnableFlapping = v == "1"
		case "is_flapping":
			c.Flapping = v == "1"
		case "flapping_buffer":
			c.FlappingBuffer = uint32(parseUint(v)) & objects.FlapBufferMask
		case "flapping_index":
			idx := int(parseUint(v))
			if idx < 0 || idx >= objects.FlapHistorySize {
				idx = 0
			}
			c.FlappingIndex = idx
		case "flapping_current":
			c.FlappingCurrent = parseFloat(v)
		case "flapping_last_change":
			c.FlappingLastChange = timeFromUnix(v)
		case "acknowledgement_type":
			t := objects.AckType(parseUint(v))
			if t < objects.AckNone || t > objects.AckSticky {
				t = objects.AckNone
			}
			c.Acknowledgement = t
		case "acknowledgement_expiry":
			c.AcknowledgementExpiry = timeFromUnix(v)
		}
	}
}

func parseUint(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func timeFromUnix(s string) time.Time {
	v, _ := strconv.ParseInt(s, 10, 64)
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0)
}
