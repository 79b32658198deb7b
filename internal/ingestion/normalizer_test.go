package ingestion

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/threatradar/threatradar/internal/models"
)

func TestNormalizeTypeDetection(t *testing.T) {
	tests := []struct {
		name      string
		value     string
		wantType  models.IOCType
		wantValue string
	}{
		{"md5 hash", strings.Repeat("A", 32), models.IOCTypeHash, strings.Repeat("a", 32)},
		{"sha1 hash", strings.Repeat("b", 40), models.IOCTypeHash, strings.Repeat("b", 40)},
		{"sha256 hash", strings.Repeat("C", 64), models.IOCTypeHash, strings.Repeat("c", 64)},
		{"http url keeps case", "http://Evil.test/PayLoad", models.IOCTypeURL, "http://Evil.test/PayLoad"},
		{"https url", "https://evil.test/x?q=1", models.IOCTypeURL, "https://evil.test/x?q=1"},
		{"schemeless url with path", "evil.test/dropper.exe", models.IOCTypeURL, "evil.test/dropper.exe"},
		{"email lowercased", "Bad.Actor@Evil.test", models.IOCTypeEmail, "bad.actor@evil.test"},
		{"ipv4", "192.0.2.44", models.IOCTypeIP, "192.0.2.44"},
		{"ipv6", "2001:db8::1", models.IOCTypeIP, "2001:db8::1"},
		{"domain lowercased", "Malicious-Example.TEST", models.IOCTypeDomain, "malicious-example.test"},
		{"whitespace trimmed", "  evil.test  ", models.IOCTypeDomain, "evil.test"},
	}

	n := NewNormalizer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			draft, err := n.Normalize(models.RawRecord{Value: tt.value}, "test-feed")
			if err != nil {
				t.Fatalf("Normalize returned error: %v", err)
			}
			if draft.Type != tt.wantType {
				t.Errorf("type = %q, want %q", draft.Type, tt.wantType)
			}
			if draft.Value != tt.wantValue {
				t.Errorf("value = %q, want %q", draft.Value, tt.wantValue)
			}
		})
	}
}

func TestNormalizeHashBeatsDomainLookalike(t *testing.T) {
	// 64 hex chars should never be classified as anything but a hash, even
	// though the string also satisfies no other rule.
	n := NewNormalizer()
	draft, err := n.Normalize(models.RawRecord{Value: strings.Repeat("ab", 32)}, "f")
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if draft.Type != models.IOCTypeHash {
		t.Errorf("type = %q, want hash", draft.Type)
	}
}

func TestNormalizeURLBeatsEmbeddedDomain(t *testing.T) {
	n := NewNormalizer()
	draft, err := n.Normalize(models.RawRecord{Value: "https://evil.test/login"}, "f")
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if draft.Type != models.IOCTypeURL {
		t.Errorf("URL with embedded hostname classified as %q", draft.Type)
	}
}

func TestNormalizeRejections(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"empty", ""},
		{"whitespace only", "   "},
		{"garbage", "not an indicator at all"},
		{"bare word", "localhost"},
		{"bad hex length", strings.Repeat("a", 33)},
		{"double at email", "a@@evil.test"},
	}

	n := NewNormalizer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(models.RawRecord{Value: tt.value}, "f")
			if err == nil {
				t.Fatal("expected rejection")
			}
			var rej *RejectionError
			if !errors.As(err, &rej) {
				t.Fatalf("error type = %T, want *RejectionError", err)
			}
		})
	}
}

func TestNormalizeIgnoresWrongTypeHint(t *testing.T) {
	n := NewNormalizer()
	draft, err := n.Normalize(models.RawRecord{Value: "192.0.2.7", TypeHint: "domain"}, "f")
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if draft.Type != models.IOCTypeIP {
		t.Errorf("detection must win over hint, got %q", draft.Type)
	}
}

func TestNormalizeTagDeduplication(t *testing.T) {
	n := NewNormalizer()
	draft, err := n.Normalize(models.RawRecord{
		Value: "evil.test",
		Tags:  []string{"Malware", "malware", " c2 ", "", "C2"},
	}, "f")
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}

	if len(draft.Tags) != 2 {
		t.Fatalf("tags = %v, want 2 entries", draft.Tags)
	}
	// First occurrence casing wins
	if draft.Tags[0] != "Malware" || draft.Tags[1] != "c2" {
		t.Errorf("tags = %v, want [Malware c2]", draft.Tags)
	}
}

func TestNormalizeTimestampsAndDescription(t *testing.T) {
	n := NewNormalizer()
	observed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	draft, err := n.Normalize(models.RawRecord{Value: "evil.test", ObservedAt: observed}, "demo-feed")
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if !draft.ObservedAt.Equal(observed) {
		t.Errorf("observed = %v, want %v", draft.ObservedAt, observed)
	}
	if draft.Description != "DOMAIN indicator from demo-feed" {
		t.Errorf("default description = %q", draft.Description)
	}
	if draft.Source != "demo-feed" {
		t.Errorf("source = %q", draft.Source)
	}

	// Missing observation time falls back to now
	before := time.Now().UTC()
	draft, err = n.Normalize(models.RawRecord{Value: "evil.test"}, "demo-feed")
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if draft.ObservedAt.Before(before.Add(-time.Second)) {
		t.Errorf("fallback observed time too old: %v", draft.ObservedAt)
	}
}
