package pipeline

import (
	"fmt"
	"strings"

	"github.com/synod-run/synod/pkg/config"
	"github.com/synod-run/synod/pkg/models"
)

const verdictSummaryMaxChars = 800

// buildContextSummary condenses one committed answer's stage artifacts into
// the five-part packet a follow-up turn carries forward: the original
// question, a bounded verdict summary, dissenting excerpts, the aggregate
// ranking, and the stage1 endpoints that produced it.
func buildContextSummary(originalQuestion string, stage3 models.Stage3, stage1 models.Stage1, stage2 *models.Stage2) models.ContextSummary {
	summary := models.ContextSummary{
		OriginalQuestion: originalQuestion,
		Verdict:          extractVerdictSummary(stage3.Response, verdictSummaryMaxChars),
	}
	for _, r := range stage1.Responses {
		summary.Stage1Endpoints = append(summary.Stage1Endpoints, r.Endpoint)
	}
	if stage2 != nil {
		summary.DissentingPoints = extractDissentingPoints(stage1, *stage2)
		summary.AggregateRankings = stage2.Aggregate
	}
	return summary
}

// extractVerdictSummary truncates a moderator response to at most maxChars,
// preferring to cut on a sentence boundary rather than mid-word.
func extractVerdictSummary(response string, maxChars int) string {
	response = strings.TrimSpace(response)
	if len(response) <= maxChars {
		return response
	}

	truncated := response[:maxChars]
	if idx := strings.LastIndexAny(truncated, ".!?"); idx > maxChars/2 {
		return truncated[:idx+1]
	}
	if idx := strings.LastIndex(truncated, " "); idx > 0 {
		return truncated[:idx] + "..."
	}
	return truncated + "..."
}

const dissentingExcerptMaxChars = 200
const maxDissentingPoints = 3

// extractDissentingPoints surfaces short excerpts from the lowest-ranked
// responses in the aggregate — the views the synthesis is most likely to
// have overridden.
func extractDissentingPoints(stage1 models.Stage1, stage2 models.Stage2) []string {
	if len(stage2.Aggregate) == 0 {
		return nil
	}

	content := make(map[string]string, len(stage1.Responses))
	for _, r := range stage1.Responses {
		content[r.Endpoint] = r.Content
	}

	bottomCount := 2
	if bottomCount > len(stage2.Aggregate) {
		bottomCount = len(stage2.Aggregate)
	}
	worst := stage2.Aggregate[len(stage2.Aggregate)-bottomCount:]

	var points []string
	for i := len(worst) - 1; i >= 0 && len(points) < maxDissentingPoints; i-- {
		endpoint := worst[i]
		text, ok := content[endpoint]
		if !ok || strings.TrimSpace(text) == "" {
			continue
		}
		excerpt := text
		if len(excerpt) > dissentingExcerptMaxChars {
			excerpt = strings.TrimSpace(excerpt[:dissentingExcerptMaxChars]) + "..."
		}
		points = append(points, fmt.Sprintf("%s: %s", endpoint, excerpt))
	}
	return points
}

// buildFollowupEffectiveQuery implements 4.5.4's literal contract: the
// effective query begins with the verbatim prior stage3 response, followed
// by the new user input under a "respond to the new input" directive. Used
// for a non-rerun follow-up only when the prior Answer carries no
// context_summary (a row committed before that column was populated).
func buildFollowupEffectiveQuery(priorResponse, newInput string) string {
	return fmt.Sprintf(`Previous answer:
%s

NEW INPUT:
%s

Respond to the new input above, taking the previous answer as established context.`, priorResponse, newInput)
}

// buildFollowupQuery folds a condensed context summary into a new question
// at the verbosity the mode configuration specifies. This is the follow-up
// path prep takes whenever the prior Answer carries a context_summary;
// reruns build their query with buildRerunQuery instead.
func buildFollowupQuery(newQuestion string, summary models.ContextSummary, verbosity config.FollowupVerbosity) string {
	switch verbosity {
	case config.FollowupMinimal:
		return fmt.Sprintf("Prior verdict: %s\n\nFollow-up question: %s", summary.Verdict, newQuestion)
	case config.FollowupFull:
		var b strings.Builder
		b.WriteString("Prior verdict:\n")
		b.WriteString(summary.Verdict)
		if len(summary.DissentingPoints) > 0 {
			b.WriteString("\n\nDissenting views from the panel:\n")
			for _, p := range summary.DissentingPoints {
				b.WriteString("- ")
				b.WriteString(p)
				b.WriteString("\n")
			}
		}
		b.WriteString("\nFollow-up question:\n")
		b.WriteString(newQuestion)
		return b.String()
	default: // config.FollowupStandard
		var b strings.Builder
		b.WriteString("Prior verdict: ")
		b.WriteString(summary.Verdict)
		if len(summary.DissentingPoints) > 0 {
			b.WriteString("\n\nNotable disagreement: ")
			b.WriteString(summary.DissentingPoints[0])
		}
		b.WriteString("\n\nFollow-up question: ")
		b.WriteString(newQuestion)
		return b.String()
	}
}
