package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// payloadTicket is everything the service sees about a ticket.
type payloadTicket struct {
	TicketNo    string `json:"ticket_no"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// buildPayload renders tickets as a JSON array, truncating long descriptions
// and stopping once maxChars would be exceeded. The first ticket is always
// included. It returns the payload, the included ticket numbers and how many
// tickets were left out.
func buildPayload(tickets []Ticket, descMaxChars, maxChars int) (string, []string, int) {
	var b strings.Builder
	b.WriteString("[")
	var included []string
	for i, t := range tickets {
		entry, err := json.Marshal(payloadTicket{
			TicketNo:    strings.TrimSpace(t.TicketNo),
			Title:       strings.TrimSpace(t.Title),
			Description: truncateRunes(strings.TrimSpace(t.Description), descMaxChars),
		})
		if err != nil {
			continue
		}
		// separator plus closing bracket
		if maxChars > 0 && len(included) > 0 && b.Len()+len(entry)+2 > maxChars {
			return closePayload(&b), included, len(tickets) - i
		}
		if len(included) > 0 {
			b.WriteString(",")
		}
		b.Write(entry)
		included = append(included, strings.TrimSpace(t.TicketNo))
	}
	return closePayload(&b), included, 0
}

func closePayload(b *strings.Builder) string {
	b.WriteString("]")
	return b.String()
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "...(truncated)"
}

func buildInsightPrompts(payload, findingsKey, recommendationsKey string) (string, string) {
	systemPrompt := `You are an IT operations analyst reviewing support tickets from hardware, system, service and network queues.
Find correlations between tickets (shared root causes, recurring failures, related sites or equipment) and recommend concrete follow-up actions.
Base every finding on the tickets given. Reference tickets by their ticket_no.
Respond with a single JSON object and nothing else. No markdown, no commentary.`

	var b strings.Builder
	b.WriteString("Tickets (JSON array of ticket_no, title, description):\n")
	b.WriteString(payload)
	b.WriteString("\n\nReturn a JSON object with exactly these keys:\n")
	fmt.Fprintf(&b, "- %q: list of objects {\"description\": string, \"confidence\": number between 0 and 1, \"ticket_nos\": list of ticket_no strings}\n", findingsKey)
	fmt.Fprintf(&b, "- %q: list of objects {\"text\": string}\n", recommendationsKey)
	b.WriteString("- \"categories\": object mapping a short category label to the number of tickets in it\n")
	b.WriteString("- \"summary\": one paragraph summarizing the overall situation\n")
	fmt.Fprintf(&b, "Use empty lists when there is nothing to report, but always include %q and %q.", findingsKey, recommendationsKey)
	return systemPrompt, b.String()
}
