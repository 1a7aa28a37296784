package pipeline

import (
	"regexp"
	"sort"
	"strings"

	"github.com/synod-run/synod/pkg/models"
)

var (
	numberedResponseRe = regexp.MustCompile(`\d+\.\s*Response [A-Z]`)
	responseLabelRe    = regexp.MustCompile(`Response [A-Z]`)
)

// parseRankingFromText extracts the ordered label list from a ranking
// reply's "FINAL RANKING:" section. Parser contract (4.5.3): after the
// header, first scan for "N. Response X" matches; if none, fall back to any
// "Response X" occurrences in order; if the header is absent, fall back to
// scanning the whole text.
func parseRankingFromText(text string) []string {
	const header = "FINAL RANKING:"
	if idx := strings.Index(text, header); idx != -1 {
		section := text[idx+len(header):]

		if numbered := numberedResponseRe.FindAllString(section, -1); len(numbered) > 0 {
			labels := make([]string, len(numbered))
			for i, m := range numbered {
				labels[i] = responseLabelRe.FindString(m)
			}
			return labels
		}

		return responseLabelRe.FindAllString(section, -1)
	}

	return responseLabelRe.FindAllString(text, -1)
}

// aggregateEntry is the intermediate per-endpoint tally before mean-rank
// sorting.
type aggregateEntry struct {
	endpoint string
	sum      int
	count    int
}

// calculateAggregateRankings computes mean rank position per endpoint across
// every S2 ranking and sorts ascending (lower mean rank is better).
func calculateAggregateRankings(rankings []models.Stage2Ranking, labelToEndpoint map[string]string) []string {
	positions := make(map[string]*aggregateEntry)
	var order []string

	for _, r := range rankings {
		for pos, label := range r.Ranking {
			endpoint, ok := labelToEndpoint[label]
			if !ok {
				continue
			}
			entry, exists := positions[endpoint]
			if !exists {
				entry = &aggregateEntry{endpoint: endpoint}
				positions[endpoint] = entry
				order = append(order, endpoint)
			}
			entry.sum += pos + 1
			entry.count++
		}
	}

	entries := make([]*aggregateEntry, 0, len(order))
	for _, endpoint := range order {
		if e := positions[endpoint]; e.count > 0 {
			entries = append(entries, e)
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return meanRank(entries[i]) < meanRank(entries[j])
	})

	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.endpoint
	}
	return out
}

func meanRank(e *aggregateEntry) float64 {
	return float64(e.sum) / float64(e.count)
}
