package sample

import (
	"fmt"
	"sort"
	"strings"

	"ticketlens/internal/cluster"
	"ticketlens/internal/domain"
)

// Sample returns at most maxCount informative tickets. Tickets with no title
// and no description are dropped before bounding, duplicates of a ticket_no
// collapse to the last occurrence, and the result is ordered by ticket_no so
// the same store yields the same sample on every run.
func Sample(records []domain.Ticket, maxCount int) ([]domain.Ticket, error) {
	if maxCount < 1 {
		return nil, &domain.ValidationError{Field: "max_count", Msg: fmt.Sprintf("must be >= 1, got %d", maxCount)}
	}

	byNo := make(map[string]domain.Ticket, len(records))
	for _, t := range records {
		no := strings.TrimSpace(t.TicketNo)
		if no == "" {
			continue
		}
		if !t.HasText() {
			// an empty later copy still replaces an informative earlier one
			delete(byNo, no)
			continue
		}
		t.TicketNo = no
		byNo[no] = t
	}

	keys := make([]string, 0, len(byNo))
	for k := range byNo {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > maxCount {
		keys = keys[:maxCount]
	}

	out := make([]domain.Ticket, len(keys))
	for i, k := range keys {
		out[i] = byNo[k]
	}
	return out, nil
}

// Texts converts tickets into clustering input, skipping empty text.
func Texts(records []domain.Ticket) []cluster.Doc {
	docs := make([]cluster.Doc, 0, len(records))
	for _, t := range records {
		if !t.HasText() {
			continue
		}
		docs = append(docs, cluster.Doc{TicketNo: t.TicketNo, Text: t.Text()})
	}
	return docs
}
