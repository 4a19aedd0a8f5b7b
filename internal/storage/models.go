/*
Package storage provides data models for learned associations.
*/
package storage

import "time"

// Association is the persisted form of a learned index entry.
type Association struct {
	// ID is derived from the normalized query and the capability name.
	ID string `json:"id"`

	// Vector is the embedding of Query. It is omitted from exports.
	Vector []float32 `json:"-"`

	// Capability is the namespaced tool name the query led to.
	Capability string `json:"capability"`

	// Query is the raw context text, kept to rebuild the index.
	Query string `json:"query"`

	// Confidence is the EMA-smoothed signal strength. It is not bounded to [0, 1].
	Confidence float64 `json:"confidence"`

	// CreatedAt is when the pairing was first observed.
	CreatedAt time.Time `json:"created_at"`

	// LastUsedAt is when the pairing was last reinforced.
	LastUsedAt time.Time `json:"last_used_at"`
}

// Default retention policy values.
const (
	DefaultPruneThreshold     = 5000
	DefaultPruneMinConfidence = 0.1
	DefaultPruneUnusedDays    = 30
)

// PrunePolicy bounds the store by confidence, staleness and size.
// Zero SizeThreshold and UnusedDays fall back to the defaults. A zero
// MinConfidence disables the confidence floor.
type PrunePolicy struct {
	SizeThreshold int     `json:"size_threshold" yaml:"pruneThreshold"`
	MinConfidence float64 `json:"min_confidence" yaml:"pruneMinConfidence"`
	UnusedDays    int     `json:"unused_days" yaml:"pruneUnusedDays"`
}

// DefaultPrunePolicy returns the retention policy used when none is configured.
func DefaultPrunePolicy() PrunePolicy {
	return PrunePolicy{
		SizeThreshold: DefaultPruneThreshold,
		MinConfidence: DefaultPruneMinConfidence,
		UnusedDays:    DefaultPruneUnusedDays,
	}
}

// WithDefaults returns p with unset size and staleness bounds filled in.
func (p PrunePolicy) WithDefaults() PrunePolicy {
	if p.SizeThreshold <= 0 {
		p.SizeThreshold = DefaultPruneThreshold
	}
	if p.UnusedDays <= 0 {
		p.UnusedDays = DefaultPruneUnusedDays
	}
	return p
}

// CapabilityCount is the number of associations pointing at one capability.
type CapabilityCount struct {
	Capability string `json:"capability"`
	Count      int    `json:"count"`
}

// Stats summarizes the store for status output.
type Stats struct {
	Total           int               `json:"total"`
	MinConfidence   float64           `json:"min_confidence"`
	AvgConfidence   float64           `json:"avg_confidence"`
	MaxConfidence   float64           `json:"max_confidence"`
	OldestUse       time.Time         `json:"oldest_use,omitempty"`
	NewestUse       time.Time         `json:"newest_use,omitempty"`
	TopCapabilities []CapabilityCount `json:"top_capabilities"`
}
