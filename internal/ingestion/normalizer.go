package ingestion

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/threatradar/threatradar/internal/models"
)

// Draft is a normalized observation ready for merging. It is not yet an
// Indicator: identity resolution and scoring happen in the store.
type Draft struct {
	Value       string
	Type        models.IOCType
	Source      string
	Tags        []string
	Description string
	ObservedAt  time.Time
}

// RejectionError reports why a raw record contributed nothing. Rejections are
// per-record and never abort a feed's batch.
type RejectionError struct {
	Value  string
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("rejected record %q: %s", e.Value, e.Reason)
}

var (
	hexPattern    = regexp.MustCompile(`^[a-f0-9]+$`)
	domainPattern = regexp.MustCompile(`^(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,}$`)
	emailPattern  = regexp.MustCompile(`^[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}$`)
)

// Normalizer converts raw provider records into canonical drafts.
type Normalizer struct {
	now func() time.Time
}

// NewNormalizer constructs a normalizer using wall-clock time for records
// that carry no observation timestamp.
func NewNormalizer() *Normalizer {
	return &Normalizer{now: time.Now}
}

// Normalize validates one raw record and produces a draft, or a
// RejectionError when the record cannot yield a usable indicator.
//
// Type detection is ordered: fixed-length hex strings are hashes, then URLs
// by scheme, then emails, then IP literals, and only then bare domains. The
// ordering keeps a URL from being misread as the domain it embeds.
func (n *Normalizer) Normalize(raw models.RawRecord, feedName string) (Draft, error) {
	value := strings.TrimSpace(raw.Value)
	if value == "" {
		return Draft{}, &RejectionError{Value: raw.Value, Reason: "empty value"}
	}

	iocType, normalized, ok := detectType(value)
	if !ok {
		return Draft{}, &RejectionError{Value: value, Reason: "no indicator type matched"}
	}

	// A provider hint that disagrees with detection is ignored rather than
	// trusted; detection is authoritative.
	observed := raw.ObservedAt
	if observed.IsZero() {
		observed = n.now().UTC()
	}

	description := strings.TrimSpace(raw.Description)
	if description == "" {
		description = fmt.Sprintf("%s indicator from %s", strings.ToUpper(string(iocType)), feedName)
	}

	return Draft{
		Value:       normalized,
		Type:        iocType,
		Source:      feedName,
		Tags:        dedupeTags(raw.Tags),
		Description: description,
		ObservedAt:  observed,
	}, nil
}

// detectType classifies a trimmed value and returns its normalized form.
// Domains, emails and hashes are lowercased; URLs keep their case because
// paths may be case-sensitive; IP literals are kept as-is.
func detectType(value string) (models.IOCType, string, bool) {
	lower := strings.ToLower(value)

	if isHash(lower) {
		return models.IOCTypeHash, lower, true
	}

	if isURL(value) {
		return models.IOCTypeURL, value, true
	}

	if strings.Count(lower, "@") == 1 && emailPattern.MatchString(lower) {
		return models.IOCTypeEmail, lower, true
	}

	if net.ParseIP(value) != nil {
		return models.IOCTypeIP, value, true
	}

	if domainPattern.MatchString(lower) {
		return models.IOCTypeDomain, lower, true
	}

	return "", "", false
}

func isHash(lower string) bool {
	switch len(lower) {
	case 32, 40, 64: // md5, sha1, sha256
		return hexPattern.MatchString(lower)
	}
	return false
}

func isURL(value string) bool {
	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		u, err := url.Parse(value)
		return err == nil && u.Host != ""
	}

	// Schemeless form: a host followed by a path or query still counts as a
	// URL, not as the bare domain it embeds.
	idx := strings.IndexAny(value, "/?")
	if idx <= 0 {
		return false
	}
	host := strings.ToLower(value[:idx])
	return domainPattern.MatchString(host) || net.ParseIP(host) != nil
}

// dedupeTags trims tags and drops case-insensitive duplicates, keeping the
// casing of the first occurrence for display.
func dedupeTags(tags []string) []string {
	var out []string
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		key := strings.ToLower(t)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}
