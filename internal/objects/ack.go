package objects

import (
	"time"

	"github.com/vigilmon/vigil/internal/metrics"
)

// ReadAcknowledgement returns the entity's acknowledgement type. If the
// stored acknowledgement carries an expiry that has passed, the read
// clears both the type and the expiry before returning AckNone. The
// mutation-on-read is deliberate: it replaces a background expiry sweep,
// and guarantees a stale acknowledgement never shows as active.
func (c *Checkable) ReadAcknowledgement() AckType {
	return c.readAcknowledgementAt(time.Now())
}

func (c *Checkable) readAcknowledgementAt(now time.Time) AckType {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	if c.Acknowledgement != AckNone && !c.AcknowledgementExpiry.IsZero() &&
		c.AcknowledgementExpiry.Before(now) {
		c.Acknowledgement = AckNone
		c.AcknowledgementExpiry = time.Time{}
		metrics.AckExpiries.Inc()
	}
	return c.Acknowledgement
}

// SetAcknowledgement stores the acknowledgement type.
func (c *Checkable) SetAcknowledgement(t AckType) {
	c.Mu.Lock()
	c.Acknowledgement = t
	c.Mu.Unlock()
}

// SetAcknowledgementExpiry stores the expiry instant. The zero time means
// the acknowledgement never expires.
func (c *Checkable) SetAcknowledgementExpiry(t time.Time) {
	c.Mu.Lock()
	c.AcknowledgementExpiry = t
	c.Mu.Unlock()
}

// IsAcknowledged reports whether a non-expired acknowledgement is stored.
func (c *Checkable) IsAcknowledged() bool {
	return c.ReadAcknowledgement() != AckNone
}
