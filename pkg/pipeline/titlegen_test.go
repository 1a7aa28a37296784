package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeTitleStripsQuotesAndTrailingPeriod(t *testing.T) {
	assert.Equal(t, "Adopt Raft for storage", sanitizeTitle(`"Adopt Raft for storage."`))
}

func TestFallbackTitleTruncatesLongQuestions(t *testing.T) {
	q := "should we adopt a distributed consensus protocol for our storage layer given current write volume"
	title := fallbackTitle(q)
	assert.True(t, len(title) < len(q))
	assert.Contains(t, title, "...")
}

func TestFallbackTitleLeavesShortQuestionsUntouched(t *testing.T) {
	assert.Equal(t, "ship it?", fallbackTitle("ship it?"))
}

func TestFallbackTitleEmptyQuestion(t *testing.T) {
	assert.Equal(t, "Untitled deliberation", fallbackTitle("   "))
}
