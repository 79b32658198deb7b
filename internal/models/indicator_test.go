package models

import (
	"testing"
	"time"
)

func TestValidIOCType(t *testing.T) {
	for _, valid := range []string{"ip", "domain", "hash", "url", "email"} {
		if !ValidIOCType(valid) {
			t.Errorf("ValidIOCType(%q) = false, want true", valid)
		}
	}
	for _, invalid := range []string{"", "IP", "cidr", "asn"} {
		if ValidIOCType(invalid) {
			t.Errorf("ValidIOCType(%q) = true, want false", invalid)
		}
	}
}

func TestIndicatorHelpers(t *testing.T) {
	ind := Indicator{
		Sources:      []string{"alienvault-otx", "demo-feed"},
		Tags:         []string{"Malware", "c2"},
		Correlations: []string{"id-1"},
	}

	if !ind.HasSource("demo-feed") {
		t.Error("HasSource(demo-feed) = false, want true")
	}
	if ind.HasSource("other") {
		t.Error("HasSource(other) = true, want false")
	}
	if !ind.HasTag("malware") {
		t.Error("HasTag should compare case-insensitively")
	}
	if ind.HasTag("ransomware") {
		t.Error("HasTag(ransomware) = true, want false")
	}
	if !ind.HasCorrelation("id-1") || ind.HasCorrelation("id-2") {
		t.Error("HasCorrelation membership wrong")
	}
}

func TestIndicatorClone(t *testing.T) {
	orig := Indicator{
		ID:      "abc",
		Value:   "1.2.3.4",
		Type:    IOCTypeIP,
		Sources: []string{"feed-a"},
		Tags:    []string{"scanner"},
	}
	clone := orig.Clone()

	clone.Sources[0] = "mutated"
	clone.Tags = append(clone.Tags, "extra")

	if orig.Sources[0] != "feed-a" {
		t.Error("mutating clone sources affected original")
	}
	if len(orig.Tags) != 1 {
		t.Error("mutating clone tags affected original")
	}
}

func TestRefreshCycleFailed(t *testing.T) {
	cycle := RefreshCycle{
		StartedAt: time.Now(),
		Outcomes: []FeedOutcome{
			{Feed: "ok-feed", Fetched: 10},
			{Feed: "bad-feed", Error: "timeout"},
		},
	}
	failed := cycle.Failed()
	if len(failed) != 1 || failed[0].Feed != "bad-feed" {
		t.Errorf("Failed() = %+v, want single bad-feed outcome", failed)
	}
}
