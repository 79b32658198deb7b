package models

import (
	"strings"
	"time"
)

// Indicator represents a canonical Indicator of Compromise aggregated from one
// or more threat intelligence feeds. The (Type, Value) pair is the natural
// identity key; ID is a surrogate that survives merges.
type Indicator struct {
	ID           string      `json:"id"`
	Value        string      `json:"value"`
	Type         IOCType     `json:"type"`
	ThreatLevel  ThreatLevel `json:"threat_level"`
	Score        int         `json:"score"` // 0-100, recomputed on every merge
	Sources      []string    `json:"sources"`
	FirstSeen    time.Time   `json:"first_seen"`
	LastSeen     time.Time   `json:"last_seen"`
	Tags         []string    `json:"tags"`
	Description  string      `json:"description,omitempty"`
	Correlations []string    `json:"correlations,omitempty"`
	CreatedAt    time.Time   `json:"-"` // store creation instant, never mutated, not on the wire
}

// IOCType categorizes the kind of artifact an indicator describes.
type IOCType string

const (
	IOCTypeIP     IOCType = "ip"
	IOCTypeDomain IOCType = "domain"
	IOCTypeHash   IOCType = "hash"
	IOCTypeURL    IOCType = "url"
	IOCTypeEmail  IOCType = "email"
)

// ValidIOCType reports whether s names a known IOC type.
func ValidIOCType(s string) bool {
	switch IOCType(s) {
	case IOCTypeIP, IOCTypeDomain, IOCTypeHash, IOCTypeURL, IOCTypeEmail:
		return true
	}
	return false
}

// ThreatLevel is the discrete severity bucket derived from the score.
type ThreatLevel string

const (
	ThreatLevelCritical ThreatLevel = "critical"
	ThreatLevelHigh     ThreatLevel = "high"
	ThreatLevelMedium   ThreatLevel = "medium"
	ThreatLevelLow      ThreatLevel = "low"
	ThreatLevelInfo     ThreatLevel = "info"
)

// ValidThreatLevel reports whether s names a known threat level.
func ValidThreatLevel(s string) bool {
	switch ThreatLevel(s) {
	case ThreatLevelCritical, ThreatLevelHigh, ThreatLevelMedium, ThreatLevelLow, ThreatLevelInfo:
		return true
	}
	return false
}

// Key returns the natural identity key of the indicator.
func (i *Indicator) Key() IndicatorKey {
	return IndicatorKey{Type: i.Type, Value: i.Value}
}

// HasSource reports whether the feed already appears in the source set.
func (i *Indicator) HasSource(feed string) bool {
	for _, s := range i.Sources {
		if s == feed {
			return true
		}
	}
	return false
}

// HasTag reports whether the tag set contains tag, compared case-insensitively.
func (i *Indicator) HasTag(tag string) bool {
	for _, t := range i.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// HasCorrelation reports whether id already appears in the correlation set.
func (i *Indicator) HasCorrelation(id string) bool {
	for _, c := range i.Correlations {
		if c == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so read-side consumers can hold an indicator
// without observing later merges.
func (i *Indicator) Clone() Indicator {
	out := *i
	out.Sources = append([]string(nil), i.Sources...)
	out.Tags = append([]string(nil), i.Tags...)
	out.Correlations = append([]string(nil), i.Correlations...)
	return out
}

// IndicatorKey is the (type, value) natural key used for deduplication.
type IndicatorKey struct {
	Type  IOCType
	Value string
}

// RawRecord is the provider-native shape a connector yields before
// normalization. TypeHint may be empty or wrong; the normalizer decides.
type RawRecord struct {
	Value       string    `json:"value"`
	TypeHint    string    `json:"type_hint,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Description string    `json:"description,omitempty"`
	ObservedAt  time.Time `json:"observed_at"`
}
