package scoring

import (
	"strings"
	"time"

	"github.com/threatradar/threatradar/internal/config"
	"github.com/threatradar/threatradar/internal/models"
)

// Tag signals recognized by the scorer. High-severity tags push the score up,
// low-severity tags pull it down.
var (
	highSeverityTags = map[string]bool{
		"malware":    true,
		"c2":         true,
		"ransomware": true,
		"apt":        true,
		"trojan":     true,
		"botnet":     true,
		"exploit":    true,
		"phishing":   true,
	}
	lowSeverityTags = map[string]bool{
		"tor-exit": true,
		"scanner":  true,
		"benign":   true,
		"sinkhole": true,
	}
)

const (
	baseScore = 40

	perSourceBoost = 10
	maxSourceBoost = 30

	perReliabilityPoint = 4

	perHighTag    = 10
	maxTagBoost   = 20
	perLowTag     = 10
	maxTagPenalty = 20

	stalenessPenalty = 15
)

// Scorer derives a 0-100 score and a discrete threat level from an
// indicator's current fields. It holds no mutable state: scoring the same
// indicator twice yields the same result.
type Scorer struct {
	cfg             config.ScoringConfig
	stalenessWindow time.Duration
	reliability     func(source string) int
	now             func() time.Time
}

// NewScorer constructs a scorer. The reliability func maps a feed name to its
// static 1-5 rating; unknown feeds rate 1.
func NewScorer(cfg config.ScoringConfig, stalenessWindow time.Duration, reliability func(source string) int) *Scorer {
	if reliability == nil {
		reliability = func(string) int { return 1 }
	}
	return &Scorer{
		cfg:             cfg,
		stalenessWindow: stalenessWindow,
		reliability:     reliability,
		now:             time.Now,
	}
}

// Score computes the indicator's score from corroboration, feed reliability,
// tag signals and recency.
func (s *Scorer) Score(ind *models.Indicator) int {
	score := baseScore

	// Independent corroboration: each additional source raises confidence.
	boost := (len(ind.Sources) - 1) * perSourceBoost
	if boost > maxSourceBoost {
		boost = maxSourceBoost
	}
	if boost > 0 {
		score += boost
	}

	score += s.maxReliability(ind.Sources) * perReliabilityPoint

	score += tagAdjustment(ind.Tags)

	// Stale evidence is weaker evidence, but corroborated indicators never
	// sink below a floor tied to their source count.
	if s.stalenessWindow > 0 && s.now().Sub(ind.LastSeen) > s.stalenessWindow {
		floor := s.cfg.LowThreshold
		if boost > 0 {
			floor += boost
		}
		score -= stalenessPenalty
		if score < floor {
			score = floor
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// Level maps a score onto its threat level bucket.
func (s *Scorer) Level(score int) models.ThreatLevel {
	switch {
	case score >= s.cfg.CriticalThreshold:
		return models.ThreatLevelCritical
	case score >= s.cfg.HighThreshold:
		return models.ThreatLevelHigh
	case score >= s.cfg.MediumThreshold:
		return models.ThreatLevelMedium
	case score >= s.cfg.LowThreshold:
		return models.ThreatLevelLow
	default:
		return models.ThreatLevelInfo
	}
}

// Rescore applies Score and Level to the indicator in place.
func (s *Scorer) Rescore(ind *models.Indicator) {
	ind.Score = s.Score(ind)
	ind.ThreatLevel = s.Level(ind.Score)
}

func (s *Scorer) maxReliability(sources []string) int {
	max := 1
	for _, src := range sources {
		if r := s.reliability(src); r > max {
			max = r
		}
	}
	if max > 5 {
		max = 5
	}
	return max
}

func tagAdjustment(tags []string) int {
	up, down := 0, 0
	for _, t := range tags {
		key := strings.ToLower(t)
		if highSeverityTags[key] {
			up += perHighTag
		}
		if lowSeverityTags[key] {
			down += perLowTag
		}
	}
	if up > maxTagBoost {
		up = maxTagBoost
	}
	if down > maxTagPenalty {
		down = maxTagPenalty
	}
	// A severe tag outweighs benign context entirely: a scanner note from one
	// feed must not dilute another feed's c2 report on the same value.
	if up > 0 {
		return up
	}
	return -down
}
