package analysis

import (
	"fmt"
	"strings"

	"ticketmind/internal/models"
)

// BuildAnalysisPrompt constructs the analysis prompt for a ticket,
// including any retrieval-augmented context snippets.
func BuildAnalysisPrompt(ticket *models.Ticket, retrieval []models.RetrievalItem) string {
	var b strings.Builder

	b.WriteString("You are a customer support analyst. Analyze the following ticket ")
	b.WriteString("and respond with a single JSON object containing exactly these keys: ")
	b.WriteString(`"summary" (string), "sentiment" (one of: positive, neutral, negative, frustrated), `)
	b.WriteString(`"priority_suggestion" (one of: low, medium, high, urgent), `)
	b.WriteString(`"confidence_score" (number between 0.0 and 1.0), `)
	b.WriteString(`"tags" (array of strings), "suggested_actions" (array of strings), `)
	b.WriteString(`"suggested_response" (string), "source_files" (array of strings).`)
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Ticket subject: %s\n", ticket.Subject)
	fmt.Fprintf(&b, "Ticket body:\n%s\n", ticket.Description)
	if ticket.Priority != "" {
		fmt.Fprintf(&b, "Current priority: %s\n", ticket.Priority)
	}

	if len(retrieval) > 0 {
		b.WriteString("\nRelevant knowledge base articles:\n")
		for _, item := range retrieval {
			fmt.Fprintf(&b, "- %s (relevance %.2f)\n", item.Filename, item.Score)
		}
	}

	return b.String()
}

// BuildReplyPrompt constructs the prompt for the best-effort second call
// that drafts a natural-language reply suggestion.
func BuildReplyPrompt(ticket *models.Ticket, result *models.NormalizedResult) string {
	var b strings.Builder

	b.WriteString("Draft a short, polite support reply for the following ticket. ")
	b.WriteString("Respond with plain text only.\n\n")
	fmt.Fprintf(&b, "Ticket subject: %s\n", ticket.Subject)
	fmt.Fprintf(&b, "Ticket body:\n%s\n", ticket.Description)
	if result != nil && result.Summary != "" {
		fmt.Fprintf(&b, "\nAnalysis summary: %s\n", result.Summary)
	}
	if result != nil && len(result.SuggestedActions) > 0 {
		fmt.Fprintf(&b, "Suggested actions: %s\n", strings.Join(result.SuggestedActions, "; "))
	}

	return b.String()
}
