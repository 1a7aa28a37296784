package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractTLDRPacketFindsFields(t *testing.T) {
	response := `Recommendation:
Adopt Raft for the storage layer coordination.

Confidence: high, roughly 80%

Key Risks:
Migration downtime during cutover.
Operator unfamiliarity with Raft tooling.

Tradeoffs:
Slightly higher write latency for stronger consistency.

Flip Condition:
If write latency regresses past 50ms p99, reconsider.`

	packet := extractTLDRPacket(response)
	assert.Contains(t, packet.Recommendation, "Adopt Raft")
	assert.Contains(t, packet.Confidence, "80%")
	assert.Contains(t, packet.KeyRisks, "Migration downtime")
	assert.Contains(t, packet.Tradeoffs, "write latency")
	assert.Contains(t, packet.FlipCondition, "50ms")
}

func TestExtractTLDRPacketFallsBackToFirst500Chars(t *testing.T) {
	response := strings.Repeat("no recognized headers appear in this body. ", 20)
	packet := extractTLDRPacket(response)
	assert.NotEmpty(t, packet.Recommendation)
	assert.True(t, len(packet.Recommendation) <= 503)
	assert.Empty(t, packet.Confidence)
}

func TestBuildRerunQueryWithNewInput(t *testing.T) {
	packet := TLDRPacket{Recommendation: "adopt Raft", Confidence: "high"}
	query := buildRerunQuery("should we adopt Raft?", packet, "we now have 3x the write volume")
	assert.Contains(t, query, "Original Decision Question: should we adopt Raft?")
	assert.Contains(t, query, "Previous Recommendation: adopt Raft")
	assert.Contains(t, query, "NEW INFORMATION/FOLLOW-UP:")
	assert.Contains(t, query, "3x the write volume")
}

func TestBuildRerunQueryWithoutNewInputAsksForIndependentOpinion(t *testing.T) {
	packet := TLDRPacket{Recommendation: "adopt Raft"}
	query := buildRerunQuery("should we adopt Raft?", packet, "")
	assert.Contains(t, query, "independent recommendation")
	assert.NotContains(t, query, "NEW INFORMATION/FOLLOW-UP:")
}
