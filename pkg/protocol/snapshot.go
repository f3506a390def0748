// Package protocol defines the wire format shared by the savecast relay and
// the desktop agent. This package is importable by overlay frontends and other
// clients.
package protocol

import (
	"fmt"
	"regexp"
	"time"
)

// MaxCountries caps the countries array in a snapshot. Display names and flags
// are never carried here; they resolve via the Bootstrap dictionary by tag.
const MaxCountries = 300

var tagRe = regexp.MustCompile(`^[A-Za-z0-9_]{2,4}$`)

// Country is one compact country entry. Only opaque tags/ids, no display data.
type Country struct {
	Tag      string  `json:"tag"`                // e.g. "PRU"
	Treasury *int64  `json:"treasury,omitempty"` // in pounds
	GDP      float64 `json:"gdp,omitempty"`
	Market   string  `json:"market,omitempty"` // id into Bootstrap.MarketsByID
}

// Snapshot is the unit of ingest: one per accepted autosave, immutable once
// built. Seq is client-assigned and strictly increasing per channel.
type Snapshot struct {
	ChannelID string    `json:"channelId"`
	SaveHash  string    `json:"saveHash"`
	Seq       int64     `json:"seq"`
	Countries []Country `json:"countries"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// Validate checks the structural constraints a relay enforces before any
// admission gate runs.
func (s *Snapshot) Validate() error {
	if s.ChannelID == "" {
		return fmt.Errorf("channelId is required")
	}
	if s.SaveHash == "" {
		return fmt.Errorf("saveHash is required")
	}
	if s.Seq < 0 {
		return fmt.Errorf("seq must be non-negative, got %d", s.Seq)
	}
	if len(s.Countries) > MaxCountries {
		return fmt.Errorf("countries exceeds max %d (got %d)", MaxCountries, len(s.Countries))
	}
	for i, c := range s.Countries {
		if !tagRe.MatchString(c.Tag) {
			return fmt.Errorf("countries[%d]: invalid tag %q", i, c.Tag)
		}
	}
	return nil
}
