package correlation

import (
	"net/url"
	"strings"

	"github.com/threatradar/threatradar/internal/models"
)

// ResolutionTagPrefix marks a connector-supplied DNS resolution hint. A
// domain tagged "resolves:192.0.2.7" links to the IP indicator 192.0.2.7 and
// vice versa.
const ResolutionTagPrefix = "resolves:"

// Correlator discovers relationships across the settled indicator set after
// each refresh cycle. It is a pure computation: the caller applies the
// returned link table to the store in one atomic step.
type Correlator struct{}

// NewCorrelator constructs a correlator.
func NewCorrelator() *Correlator {
	return &Correlator{}
}

// Recompute scans the snapshot from scratch and returns the complete
// symmetric link table, keyed by indicator ID. Recomputing rather than
// patching avoids stale links when indicators stop sharing tags.
func (c *Correlator) Recompute(snapshot []models.Indicator) map[string][]string {
	links := newLinkTable()

	byValue := make(map[models.IndicatorKey]*models.Indicator, len(snapshot))
	for i := range snapshot {
		ind := &snapshot[i]
		byValue[ind.Key()] = ind
	}

	for i := range snapshot {
		ind := &snapshot[i]

		// Rule: a URL links to the known domain or IP it is hosted on.
		if ind.Type == models.IOCTypeURL {
			if host := hostOf(ind.Value); host != "" {
				if target, ok := byValue[models.IndicatorKey{Type: models.IOCTypeDomain, Value: host}]; ok {
					links.add(ind.ID, target.ID)
				}
				if target, ok := byValue[models.IndicatorKey{Type: models.IOCTypeIP, Value: host}]; ok {
					links.add(ind.ID, target.ID)
				}
			}
		}

		// Rule: connector-supplied resolution hints pair domains with IPs.
		for _, tag := range ind.Tags {
			resolved, ok := resolutionTarget(tag)
			if !ok {
				continue
			}
			counterpart := models.IOCTypeIP
			if ind.Type == models.IOCTypeIP {
				counterpart = models.IOCTypeDomain
			} else if ind.Type != models.IOCTypeDomain {
				continue
			}
			if target, ok := byValue[models.IndicatorKey{Type: counterpart, Value: resolved}]; ok {
				links.add(ind.ID, target.ID)
			}
		}
	}

	// Rule: any two indicators sharing at least two tags are related.
	linkSharedTags(snapshot, links)

	return links.table
}

// linkSharedTags indexes indicators by tag and links pairs with two or more
// tags in common. Resolution hints are bookkeeping, not descriptive tags, so
// they do not count toward the overlap.
func linkSharedTags(snapshot []models.Indicator, links *linkTable) {
	byTag := make(map[string][]int)
	for i := range snapshot {
		for _, tag := range snapshot[i].Tags {
			key := strings.ToLower(tag)
			if strings.HasPrefix(key, ResolutionTagPrefix) {
				continue
			}
			byTag[key] = append(byTag[key], i)
		}
	}

	shared := make(map[[2]int]int)
	for _, members := range byTag {
		for a := 0; a < len(members); a++ {
			for b := a + 1; b < len(members); b++ {
				shared[[2]int{members[a], members[b]}]++
			}
		}
	}

	for pair, count := range shared {
		if count >= 2 {
			links.add(snapshot[pair[0]].ID, snapshot[pair[1]].ID)
		}
	}
}

type linkTable struct {
	table map[string][]string
	seen  map[[2]string]bool
}

func newLinkTable() *linkTable {
	return &linkTable{
		table: make(map[string][]string),
		seen:  make(map[[2]string]bool),
	}
}

// add records a symmetric link once, regardless of call order or repeats.
func (l *linkTable) add(a, b string) {
	if a == b {
		return
	}
	key := [2]string{a, b}
	if a > b {
		key = [2]string{b, a}
	}
	if l.seen[key] {
		return
	}
	l.seen[key] = true
	l.table[a] = append(l.table[a], b)
	l.table[b] = append(l.table[b], a)
}

// hostOf extracts the lowercase hostname from a URL value, accepting both
// scheme-prefixed and schemeless forms.
func hostOf(value string) string {
	raw := value
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func resolutionTarget(tag string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(tag))
	if !strings.HasPrefix(key, ResolutionTagPrefix) {
		return "", false
	}
	target := strings.TrimSpace(strings.TrimPrefix(key, ResolutionTagPrefix))
	return target, target != ""
}
