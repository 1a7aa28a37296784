package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/synod-run/synod/pkg/models"
)

func TestParseRankingFromTextWithHeader(t *testing.T) {
	text := "Response A is thorough...\n\nFINAL RANKING:\n1. Response X\n2. Response Y\n3. Response Z"
	assert.Equal(t, []string{"Response X", "Response Y", "Response Z"}, parseRankingFromText(text))
}

func TestParseRankingFromTextHeaderWithoutNumbering(t *testing.T) {
	text := "FINAL RANKING:\nResponse B, then Response A, then Response C"
	assert.Equal(t, []string{"Response B", "Response A", "Response C"}, parseRankingFromText(text))
}

func TestParseRankingFromTextNoHeader(t *testing.T) {
	text := "I think Response B is best, followed by Response A."
	assert.Equal(t, []string{"Response B", "Response A"}, parseRankingFromText(text))
}

func TestParseRankingFromTextEmpty(t *testing.T) {
	assert.Empty(t, parseRankingFromText(""))
}

func TestCalculateAggregateRankingsSortsByMeanRank(t *testing.T) {
	labelToEndpoint := map[string]string{
		"Response A": "m1",
		"Response B": "m2",
		"Response C": "m3",
	}
	rankings := []models.Stage2Ranking{
		{Endpoint: "m1", Ranking: []string{"Response A", "Response B", "Response C"}},
		{Endpoint: "m2", Ranking: []string{"Response B", "Response A", "Response C"}},
		{Endpoint: "m3", Ranking: []string{"Response A", "Response C", "Response B"}},
	}

	aggregate := calculateAggregateRankings(rankings, labelToEndpoint)
	assert.Equal(t, []string{"m1", "m2", "m3"}, aggregate)
}
