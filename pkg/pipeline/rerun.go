package pipeline

import (
	"fmt"
	"strings"
)

// TLDRPacket is a best-effort heuristic summary of a prior stage3 response,
// used to seed a rerun's effective query. Fields are advisory; callers MUST
// NOT assume any particular structure survives from one moderator response
// to the next (4.5.7).
type TLDRPacket struct {
	Recommendation string
	Confidence     string
	KeyRisks       string
	Tradeoffs      string
	FlipCondition  string
	ActionPlan     string
}

var tldrHeaders = []struct {
	keywords []string
	assign   func(*TLDRPacket, string)
}{
	{[]string{"recommendation", "verdict"}, func(p *TLDRPacket, v string) { p.Recommendation = v }},
	{[]string{"confidence"}, func(p *TLDRPacket, v string) { p.Confidence = v }},
	{[]string{"risk"}, func(p *TLDRPacket, v string) { p.KeyRisks = v }},
	{[]string{"tradeoff", "trade-off"}, func(p *TLDRPacket, v string) { p.Tradeoffs = v }},
	{[]string{"flip", "reconsider"}, func(p *TLDRPacket, v string) { p.FlipCondition = v }},
	{[]string{"action", "next step"}, func(p *TLDRPacket, v string) { p.ActionPlan = v }},
}

// extractTLDRPacket scans stage3Response line-by-line for headers whose
// lowercase form contains one of the recognized keywords and captures the
// header line plus the lines after it, within a 5-line window and stopping
// at the first blank line. If nothing fires, the first 500 characters
// become Recommendation.
func extractTLDRPacket(stage3Response string) TLDRPacket {
	var packet TLDRPacket
	lines := strings.Split(stage3Response, "\n")

	for i, line := range lines {
		lower := strings.ToLower(strings.TrimSpace(line))
		for _, h := range tldrHeaders {
			for _, kw := range h.keywords {
				if strings.Contains(lower, kw) {
					if section := extractSection(lines, i, 5); section != "" {
						h.assign(&packet, section)
					}
					break
				}
			}
		}
	}

	if packet == (TLDRPacket{}) {
		if len(stage3Response) > 500 {
			packet.Recommendation = stage3Response[:500] + "..."
		} else {
			packet.Recommendation = stage3Response
		}
	}

	return packet
}

// extractSection gathers non-empty lines starting at headerIdx, stopping at
// the first empty line once content has accumulated.
func extractSection(lines []string, headerIdx, maxLines int) string {
	var content []string
	end := headerIdx + maxLines
	if end > len(lines) {
		end = len(lines)
	}
	for i := headerIdx; i < end; i++ {
		line := strings.TrimSpace(lines[i])
		if line != "" {
			content = append(content, line)
		} else if len(content) > 0 {
			break
		}
	}
	return strings.Join(content, " ")
}

// buildRerunQuery constructs the effective query for a rerun: a structured
// context block plus either an "update" instruction (new input present) or
// an "independent second opinion" instruction.
func buildRerunQuery(originalQuestion string, packet TLDRPacket, newInput string) string {
	parts := []string{fmt.Sprintf("Original Decision Question: %s", originalQuestion)}

	if packet.Recommendation != "" {
		parts = append(parts, fmt.Sprintf("Previous Recommendation: %s", packet.Recommendation))
	}
	if packet.Confidence != "" {
		parts = append(parts, fmt.Sprintf("Previous Confidence: %s", packet.Confidence))
	}
	if packet.KeyRisks != "" {
		parts = append(parts, fmt.Sprintf("Key Risks Identified: %s", packet.KeyRisks))
	}
	if packet.Tradeoffs != "" {
		parts = append(parts, fmt.Sprintf("Tradeoffs: %s", packet.Tradeoffs))
	}
	if packet.FlipCondition != "" {
		parts = append(parts, fmt.Sprintf("Flip Condition: %s", packet.FlipCondition))
	}

	contextSummary := strings.Join(parts, "\n")

	if strings.TrimSpace(newInput) != "" {
		return fmt.Sprintf(`%s

NEW INFORMATION/FOLLOW-UP:
%s

INSTRUCTION: Update the verdict based on the new input above. Clearly state what changed since the last verdict and provide an updated recommendation.`, contextSummary, newInput)
	}

	return fmt.Sprintf(`%s

INSTRUCTION: Provide an independent recommendation for this decision. Do NOT assume the previous verdict is correct. If you agree with the previous recommendation, explain why. If you disagree, explain what you would change and why.`, contextSummary)
}
