package pipeline

import (
	"fmt"
	"strings"
)

// Stage 1 has no prompt builder here: runS1 sends the effective query
// straight through, with no extra scaffolding beyond whatever prep built
// (rerun-query, follow-up-query, or the verbatim question).

// crossReviewPrompt builds the S1.5 anonymized refinement prompt for one
// endpoint: its own Stage 1 response verbatim, the others relabeled and
// shuffled.
func crossReviewPrompt(question, ownResponse string, otherResponses []string) string {
	var parts []string
	for i, r := range otherResponses {
		label := string(rune('A' + i))
		parts = append(parts, fmt.Sprintf("Response %s:\n%s", label, r))
	}
	otherText := strings.Join(parts, "\n\n")

	return fmt.Sprintf(`You are participating in a cross-review step of a deliberation.

ORIGINAL QUESTION:
%s

YOUR ORIGINAL RESPONSE:
%s

OTHER PANEL RESPONSES (anonymized):
%s

---

YOUR TASK:
The response labeled "YOUR ORIGINAL RESPONSE" above is yours from the first round.
The other responses (A, B, C, etc.) are from anonymous fellow panelists.

Provide your REFINED answer considering all perspectives. You may:
- Incorporate valuable insights from other responses you hadn't considered
- Strengthen your argument if you believe your initial position was correct
- Change or nuance your position if another response convinced you
- Address points of disagreement directly
- Correct any errors you notice

Important: This is your FINAL answer before the peer ranking phase. Make it comprehensive and well-reasoned.

Your refined response:`, question, ownResponse, otherText)
}

// rankingPrompt builds the S2 peer-ranking prompt. The parser in ranking.go
// depends on the exact "FINAL RANKING:" header and "N. Response X" format
// demanded here.
func rankingPrompt(question string, labels []string, responses []string) string {
	var parts []string
	for i, label := range labels {
		parts = append(parts, fmt.Sprintf("Response %s:\n%s", label, responses[i]))
	}
	responsesText := strings.Join(parts, "\n\n")

	return fmt.Sprintf(`You are evaluating different responses to the following question:

Question: %s

Here are the responses from different panelists (anonymized):

%s

Your task:
1. First, evaluate each response individually. For each response, explain what it does well and what it does poorly.
2. Then, at the very end of your response, provide a final ranking.

IMPORTANT: Your final ranking MUST be formatted EXACTLY as follows:
- Start with the line "FINAL RANKING:" (all caps, with colon)
- Then list the responses from best to worst as a numbered list
- Each line should be: number, period, space, then ONLY the response label (e.g., "1. Response A")
- Do not add any other text or explanations in the ranking section

Now provide your evaluation and ranking:`, question, responsesText)
}

// endpointText pairs an endpoint identifier with some text, preserving the
// ordering the spec requires of stage artifacts (maps would iterate
// nondeterministically).
type endpointText struct {
	Endpoint string
	Text     string
}

// synthesisPrompt builds the S3 moderator prompt. When rankings is empty
// (Quick mode, no peer review) the prompt omits the ranking section.
func synthesisPrompt(question string, responses []endpointText, rankings []endpointText) string {
	var stage1Parts []string
	for _, r := range responses {
		stage1Parts = append(stage1Parts, fmt.Sprintf("Panelist: %s\nResponse: %s", r.Endpoint, r.Text))
	}
	stage1Text := strings.Join(stage1Parts, "\n\n")

	if len(rankings) == 0 {
		return fmt.Sprintf(`You are the Moderator of a deliberation panel. Multiple AI panelists have provided responses to a user's question.

Original Question: %s

Individual Responses:
%s

Your task as Moderator is to synthesize all of these responses into a single, comprehensive, accurate answer to the user's original question.

IMPORTANT: Do NOT reference individual panelists or responses by name. Directly synthesize the best insights into a unified answer.

Consider:
- The key insights from each response
- Areas of agreement and disagreement
- The strongest arguments and evidence presented

Provide a clear, well-reasoned final answer that represents the panel's collective wisdom:`, question, stage1Text)
	}

	var stage2Parts []string
	for _, r := range rankings {
		stage2Parts = append(stage2Parts, fmt.Sprintf("Panelist: %s\nRanking: %s", r.Endpoint, r.Text))
	}
	stage2Text := strings.Join(stage2Parts, "\n\n")

	return fmt.Sprintf(`You are the Moderator of a deliberation panel. Multiple AI panelists have provided responses to a user's question, and then ranked each other's responses.

Original Question: %s

STAGE 1 - Individual Responses:
%s

STAGE 2 - Peer Rankings:
%s

Your task as Moderator is to synthesize all of this information into a single, comprehensive, accurate answer to the user's original question.

IMPORTANT: Do NOT reference "Response A", "Response B", etc. in your synthesis. The anonymous labels are internal to the peer review process. Instead, directly synthesize the best insights into a unified answer.

Consider:
- The individual responses and their insights
- The peer rankings and what they reveal about response quality
- Any patterns of agreement or disagreement

Provide a clear, well-reasoned final answer that represents the panel's collective wisdom:`, question, stage1Text, stage2Text)
}

// retrySynthesisPrompt is the stricter second attempt issued when S3's first
// response echoes the question (4.5.2).
func retrySynthesisPrompt(question string, responses []endpointText) string {
	var summary []string
	for i, r := range responses {
		if i >= 4 {
			break
		}
		truncated := r.Text
		if len(truncated) > 800 {
			truncated = truncated[:800] + "..."
		}
		summary = append(summary, fmt.Sprintf("- %s: %s", r.Endpoint, truncated))
	}
	summaryText := strings.Join(summary, "\n")

	queryContext := question
	if len(queryContext) > 1500 {
		queryContext = queryContext[:1500] + "..."
	}

	return fmt.Sprintf(`CRITICAL: Do NOT repeat the question. Provide ONLY your synthesis/recommendation.

QUESTION CONTEXT (reference only - DO NOT INCLUDE IN YOUR RESPONSE):
%s

PANEL RESPONSES:
%s

INSTRUCTIONS:
- Start DIRECTLY with your synthesis or recommendation
- Do NOT echo, quote, or summarize the question
- Synthesize the panel responses into actionable guidance
- Use structured formatting (headers, bullets) for clarity

YOUR SYNTHESIS:`, queryContext, summaryText)
}

// titlePrompt builds the detached title-generation subtask's prompt.
func titlePrompt(question string) string {
	return fmt.Sprintf(`Generate a very short title (3-5 words maximum) that summarizes the following question.
The title should be concise and descriptive. Do not use quotes or punctuation in the title.

Question: %s

Title:`, question)
}
