package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/synod-run/synod/pkg/config"
	"github.com/synod-run/synod/pkg/models"
)

func TestExtractVerdictSummaryPassesShortTextThrough(t *testing.T) {
	assert.Equal(t, "short verdict.", extractVerdictSummary("short verdict.", 800))
}

func TestExtractVerdictSummaryTruncatesOnSentenceBoundary(t *testing.T) {
	response := strings.Repeat("this is a filler sentence. ", 50)
	summary := extractVerdictSummary(response, 800)
	assert.LessOrEqual(t, len(summary), 800)
	assert.True(t, strings.HasSuffix(summary, "."))
}

func TestExtractDissentingPointsUsesBottomOfAggregate(t *testing.T) {
	stage1 := models.Stage1{Responses: []models.Stage1Response{
		{Endpoint: "m1", Content: "strongly in favor"},
		{Endpoint: "m2", Content: "strongly opposed due to cost concerns"},
		{Endpoint: "m3", Content: "neutral, leans opposed"},
	}}
	stage2 := models.Stage2{Aggregate: []string{"m1", "m3", "m2"}}

	points := extractDissentingPoints(stage1, stage2)
	assert.Len(t, points, 2)
	assert.Contains(t, points[0], "m2")
	assert.Contains(t, points[1], "m3")
}

func TestExtractDissentingPointsEmptyAggregate(t *testing.T) {
	assert.Nil(t, extractDissentingPoints(models.Stage1{}, models.Stage2{}))
}

func TestBuildContextSummaryAssemblesAllFiveParts(t *testing.T) {
	stage3 := models.Stage3{Response: "adopt Raft for its operational simplicity."}
	stage1 := models.Stage1{Responses: []models.Stage1Response{
		{Endpoint: "m1", Content: "strongly in favor"},
		{Endpoint: "m2", Content: "strongly opposed due to cost concerns"},
	}}
	stage2 := &models.Stage2{Aggregate: []string{"m1", "m2"}}

	summary := buildContextSummary("should we adopt a consensus protocol?", stage3, stage1, stage2)

	assert.Equal(t, "should we adopt a consensus protocol?", summary.OriginalQuestion)
	assert.Equal(t, "adopt Raft for its operational simplicity.", summary.Verdict)
	assert.NotEmpty(t, summary.DissentingPoints)
	assert.Equal(t, []string{"m1", "m2"}, summary.AggregateRankings)
	assert.Equal(t, []string{"m1", "m2"}, summary.Stage1Endpoints)
}

func TestBuildFollowupQueryVerbosityTiers(t *testing.T) {
	summary := models.ContextSummary{
		Verdict:          "adopt Raft",
		DissentingPoints: []string{"m2: cost concerns"},
	}

	minimal := buildFollowupQuery("what about cost?", summary, config.FollowupMinimal)
	assert.Contains(t, minimal, "adopt Raft")
	assert.NotContains(t, minimal, "cost concerns")

	standard := buildFollowupQuery("what about cost?", summary, config.FollowupStandard)
	assert.Contains(t, standard, "cost concerns")

	full := buildFollowupQuery("what about cost?", summary, config.FollowupFull)
	assert.Contains(t, full, "Dissenting views from the panel:")
	assert.Contains(t, full, "cost concerns")
}

func TestBuildFollowupEffectiveQueryIsVerbatim(t *testing.T) {
	query := buildFollowupEffectiveQuery("adopt Raft for its operational simplicity.", "what about write latency?")
	assert.Contains(t, query, "adopt Raft for its operational simplicity.")
	assert.Contains(t, query, "NEW INPUT:")
	assert.Contains(t, query, "what about write latency?")
}
