package pipeline

import "strings"

const (
	echoQuestionPrefixLen  = 80
	echoResponseScanLen    = 300
	echoIndicatorScanLen   = 500
	echoSubstantialTailLen = 500
)

// synthesisIndicators are tokens whose presence in the first 500 characters
// withdraws an echo suspicion — some moderators legitimately restate the
// question before synthesizing.
var synthesisIndicators = []string{
	"based on", "analysis", "recommend", "synthesis", "conclusion",
	"verdict", "however", "therefore", "##", "**",
	"1.", "2.", "first", "second", "critique", "assessment", "evaluation", "council",
}

// synthesisStartMarkers are phrases that plausibly mark where a real
// synthesis begins after an echoed question prefix.
var synthesisStartMarkers = []string{
	"based on the panel's analysis",
	"the panel recommends",
	"after reviewing",
	"in conclusion",
	"the consensus is",
	"my synthesis",
	"final recommendation",
	"synthesis:",
	"my recommendation",
	"the verdict",
}

const canonicalEchoFailureText = `**Unable to generate synthesis** - The moderator model encountered an issue processing this query.

**Workaround:** Please try:
1. Shortening your question
2. Splitting into multiple smaller questions
3. Using Quick mode

The individual panel responses above may still be helpful.`

// detectEcho implements 4.5.2: a moderator response is an echo iff it
// begins with the question's prefix AND no synthesis indicator appears in
// the first 500 characters, unless substantial content follows the echoed
// prefix.
func detectEcho(question, response string) bool {
	question = strings.TrimSpace(question)
	response = strings.TrimSpace(response)

	if len(question) <= 100 {
		return false
	}

	prefixLen := min(150, len(question))
	questionStart := question[:prefixLen]
	checkLen := min(echoQuestionPrefixLen, len(questionStart))

	responseScanLen := min(echoResponseScanLen, len(response))
	responseStart := response[:responseScanLen]

	if !strings.HasPrefix(responseStart, questionStart[:checkLen]) {
		return false
	}

	indicatorScanLen := min(echoIndicatorScanLen, len(response))
	lowerScan := strings.ToLower(response[:indicatorScanLen])
	hasIndicator := false
	for _, ind := range synthesisIndicators {
		if strings.Contains(lowerScan, ind) {
			hasIndicator = true
			break
		}
	}

	if hasIndicator || len(response) > len(questionStart)+echoSubstantialTailLen {
		return false
	}

	return true
}

// extractSynthesisTail scans for a recognized synthesis-start marker and, if
// found, returns the tail beginning at that marker plus true. Otherwise
// returns ("", false) and the caller must retry with a stricter prompt.
func extractSynthesisTail(response string, questionPrefixLen int) (string, bool) {
	lower := strings.ToLower(response)
	for _, marker := range synthesisStartMarkers {
		pos := strings.Index(lower, marker)
		if pos > questionPrefixLen {
			return response[pos:], true
		}
	}
	return "", false
}
