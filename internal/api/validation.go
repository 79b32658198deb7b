package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/threatradar/threatradar/internal/models"
)

// parseIndicatorQuery converts URL query parameters to an IndicatorQuery.
// Filter values are comma-separated lists; bad values surface as request
// errors rather than being silently dropped.
func parseIndicatorQuery(r *http.Request) (models.IndicatorQuery, error) {
	q := r.URL.Query()
	query := models.IndicatorQuery{
		Search: q.Get("search"),
	}

	for _, t := range splitCSV(q.Get("types")) {
		query.Types = append(query.Types, models.IOCType(strings.ToLower(t)))
	}
	for _, l := range splitCSV(q.Get("levels")) {
		query.ThreatLevels = append(query.ThreatLevels, models.ThreatLevel(strings.ToLower(l)))
	}
	query.Sources = splitCSV(q.Get("sources"))

	if limit := q.Get("limit"); limit != "" {
		val, err := strconv.Atoi(limit)
		if err != nil {
			return query, fmt.Errorf("invalid limit %q", limit)
		}
		query.Limit = val
	}
	if offset := q.Get("offset"); offset != "" {
		val, err := strconv.Atoi(offset)
		if err != nil {
			return query, fmt.Errorf("invalid offset %q", offset)
		}
		query.Offset = val
	}

	if err := query.Validate(); err != nil {
		return query, err
	}
	return query, nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
