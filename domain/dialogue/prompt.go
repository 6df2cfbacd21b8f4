package dialogue

import (
	"fmt"
	"strings"
)

// buildTurnPrompt assembles one turn's prompt: system persona framing, the
// original query, the ordered transcript so far, and retrieved context —
// context is included only when includeContext is true, matching the rule
// that CGRAG context is inserted only in turn 1 of each side.
func buildTurnPrompt(persona Persona, originalQuery string, transcript []Turn, context string, includeContext bool) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are participating as %s.\n\n", persona)
	fmt.Fprintf(&b, "Original query: %s\n\n", originalQuery)

	if includeContext && strings.TrimSpace(context) != "" {
		fmt.Fprintf(&b, "Retrieved context:\n%s\n\n", context)
	}

	if len(transcript) > 0 {
		b.WriteString("Transcript so far:\n")
		for _, t := range transcript {
			fmt.Fprintf(&b, "[%s] %s\n", t.Persona, t.Content)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Respond as %s.", persona)
	return b.String()
}

// buildModeratorPrompt assembles the moderator's probe prompt over the
// most recent window of transcript turns and the original query.
func buildModeratorPrompt(originalQuery string, window []Turn) string {
	var b strings.Builder

	b.WriteString("You are moderating a debate. Review the exchange below.\n\n")
	fmt.Fprintf(&b, "Original query: %s\n\n", originalQuery)

	b.WriteString("Recent turns:\n")
	for _, t := range window {
		fmt.Fprintf(&b, "[%s] %s\n", t.Persona, t.Content)
	}

	b.WriteString("\nIf the debate should continue unchanged, respond with exactly: CONTINUE\n")
	b.WriteString("If you want to interject guidance, respond with a line starting with: INTERJECT: <your guidance>\n")
	return b.String()
}

// buildAnalysisPrompt assembles the post-hoc analysis prompt over the full
// transcript, produced by the same moderator model after termination.
func buildAnalysisPrompt(originalQuery string, transcript []Turn) string {
	var b strings.Builder

	b.WriteString("The debate below has concluded. Provide a brief analysis of the exchange.\n\n")
	fmt.Fprintf(&b, "Original query: %s\n\n", originalQuery)

	b.WriteString("Full transcript:\n")
	for _, t := range transcript {
		fmt.Fprintf(&b, "[%s] %s\n", t.Persona, t.Content)
	}
	return b.String()
}
