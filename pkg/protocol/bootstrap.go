package protocol

import "fmt"

// BootstrapVersion is the only schema version the relay accepts.
const BootstrapVersion = "v1"

// Bootstrap is the rarely-changing side-channel dictionary (display names,
// flags, market labels) resolved by tag/id. It is kept out of the snapshot so
// the per-snapshot payload stays small.
type Bootstrap struct {
	CountriesByTag map[string]string `json:"countriesByTag"`     // "PRU": "Prussia"
	FlagsByTag     map[string]string `json:"flagsByTag,omitempty"` // optional CDN urls
	MarketsByID    map[string]string `json:"marketsById"`        // "german_market": "German Market"
	Version        string            `json:"version"`
	ETag           string            `json:"eTag,omitempty"` // server may set
}

// Validate checks the bootstrap schema. Unlike snapshots, bootstraps have no
// broadcast size ceiling; they travel over their own cached endpoint.
func (b *Bootstrap) Validate() error {
	if b.Version != BootstrapVersion {
		return fmt.Errorf("unsupported bootstrap version %q (want %q)", b.Version, BootstrapVersion)
	}
	if b.CountriesByTag == nil {
		return fmt.Errorf("countriesByTag is required")
	}
	if b.MarketsByID == nil {
		return fmt.Errorf("marketsById is required")
	}
	for tag := range b.CountriesByTag {
		if !tagRe.MatchString(tag) {
			return fmt.Errorf("countriesByTag: invalid tag %q", tag)
		}
	}
	for tag := range b.FlagsByTag {
		if !tagRe.MatchString(tag) {
			return fmt.Errorf("flagsByTag: invalid tag %q", tag)
		}
	}
	return nil
}

// WeakETag derives the HTTP validator the relay serves for a bootstrap.
func (b *Bootstrap) WeakETag() string {
	return `W/"` + b.Version + `"`
}
