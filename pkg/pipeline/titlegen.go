package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"github.com/synod-run/synod/pkg/upstream"
)

// titleMaxWords bounds the fallback title built from the question so it fits
// a sidebar entry without wrapping; a title returned by the endpoint is only
// trimmed, not shortened.
const titleMaxWords = 8

// generateTitle spawns a detached call against titleEndpoint to produce a
// short label for a brand-new deliberation (never invoked for reruns or
// follow-ups, which keep the original title). It is started in PREP and
// only awaited at COMMIT, so a slow or failing title call never blocks the
// stage machine — on an error or an empty reply it sends the question's
// first words as the title instead.
func generateTitle(ctx context.Context, client *upstream.Client, titleEndpoint, question string) <-chan string {
	out := make(chan string, 1)
	go func() {
		defer close(out)

		answer, err := client.Call(ctx, titleEndpoint, []upstream.Message{
			{Role: upstream.RoleUser, Content: titlePrompt(question)},
		})
		if err != nil {
			slog.Warn("title generation failed, falling back to truncated question",
				"endpoint", titleEndpoint, "error", err)
			out <- fallbackTitle(question)
			return
		}

		title := sanitizeTitle(answer.Content)
		if title == "" {
			title = fallbackTitle(question)
		}
		out <- title
	}()
	return out
}

func sanitizeTitle(raw string) string {
	title := strings.TrimSpace(raw)
	title = strings.Trim(title, `"'`)
	title = strings.TrimSuffix(title, ".")
	return strings.TrimSpace(title)
}

func fallbackTitle(question string) string {
	words := strings.Fields(strings.TrimSpace(question))
	if len(words) == 0 {
		return "Untitled deliberation"
	}
	truncated := len(words) > titleMaxWords
	if truncated {
		words = words[:titleMaxWords]
	}
	title := strings.Join(words, " ")
	if truncated {
		title += "..."
	}
	return title
}
