package models

import (
	"fmt"
	"strings"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

// IndicatorQuery captures the filters of a GET /indicators request. Empty
// filter slices match everything.
type IndicatorQuery struct {
	Search       string
	Types        []IOCType
	ThreatLevels []ThreatLevel
	Sources      []string
	Limit        int
	Offset       int
}

// Validate normalizes the query in place and rejects unknown filter values.
// A zero limit becomes the default, an oversized limit is capped, and a
// negative offset is an error.
func (q *IndicatorQuery) Validate() error {
	if q.Limit < 0 {
		return fmt.Errorf("limit must not be negative, got %d", q.Limit)
	}
	if q.Limit == 0 {
		q.Limit = defaultQueryLimit
	}
	if q.Limit > maxQueryLimit {
		q.Limit = maxQueryLimit
	}
	if q.Offset < 0 {
		return fmt.Errorf("offset must not be negative, got %d", q.Offset)
	}
	for _, t := range q.Types {
		if !ValidIOCType(string(t)) {
			return fmt.Errorf("unknown indicator type %q", t)
		}
	}
	for _, l := range q.ThreatLevels {
		if !ValidThreatLevel(string(l)) {
			return fmt.Errorf("unknown threat level %q", l)
		}
	}
	q.Search = strings.TrimSpace(q.Search)
	return nil
}

// Matches reports whether the indicator satisfies every filter of the query.
// Pagination is not applied here.
func (q *IndicatorQuery) Matches(ind *Indicator) bool {
	if len(q.Types) > 0 && !containsType(q.Types, ind.Type) {
		return false
	}
	if len(q.ThreatLevels) > 0 && !containsLevel(q.ThreatLevels, ind.ThreatLevel) {
		return false
	}
	if len(q.Sources) > 0 {
		found := false
		for _, s := range q.Sources {
			if ind.HasSource(s) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.Search != "" {
		needle := strings.ToLower(q.Search)
		if !strings.Contains(strings.ToLower(ind.Value), needle) &&
			!strings.Contains(strings.ToLower(ind.Description), needle) &&
			!tagsContain(ind.Tags, needle) {
			return false
		}
	}
	return true
}

func containsType(ts []IOCType, t IOCType) bool {
	for _, x := range ts {
		if x == t {
			return true
		}
	}
	return false
}

func containsLevel(ls []ThreatLevel, l ThreatLevel) bool {
	for _, x := range ls {
		if x == l {
			return true
		}
	}
	return false
}

func tagsContain(tags []string, needle string) bool {
	for _, t := range tags {
		if strings.Contains(strings.ToLower(t), needle) {
			return true
		}
	}
	return false
}
