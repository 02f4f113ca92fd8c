package mapping

import (
	"math"
	"strconv"
	"strings"

	"ticketlens/internal/domain"
)

// Result is the output of mapping one sheet.
type Result struct {
	Category domain.Category
	Sheet    string
	Tickets  []domain.Ticket
	// Skipped counts non-blank rows dropped for lacking a ticket number.
	Skipped int
}

// Map converts a sheet's rows into tickets. The first row must be the header
// row; extra columns are ignored. A missing required header rejects the whole
// sheet with no tickets emitted.
func (m SheetMapping) Map(rows [][]string) (Result, error) {
	res := Result{Category: m.Category, Sheet: m.Sheet}
	var header []string
	if len(rows) > 0 {
		header = rows[0]
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		h = normalizeHeader(h)
		if _, dup := index[h]; !dup && h != "" {
			index[h] = i
		}
	}

	fieldCol := make(map[string]int, len(m.Columns))
	var missing []string
	for _, c := range m.Columns {
		i, ok := index[normalizeHeader(c.Header)]
		if !ok {
			missing = append(missing, c.Header)
			continue
		}
		fieldCol[c.Field] = i
	}
	if len(missing) > 0 {
		return Result{Category: m.Category, Sheet: m.Sheet}, &domain.SchemaMismatchError{
			Category: m.Category,
			Sheet:    m.Sheet,
			Missing:  missing,
		}
	}

	if len(rows) == 0 {
		return res, nil
	}
	for _, row := range rows[1:] {
		if blankRow(row) {
			continue
		}
		t := mapRow(row, fieldCol, m.Category)
		if t.TicketNo == "" {
			res.Skipped++
			continue
		}
		res.Tickets = append(res.Tickets, t)
	}
	return res, nil
}

func mapRow(row []string, fieldCol map[string]int, category domain.Category) domain.Ticket {
	cell := func(field string) string {
		i, ok := fieldCol[field]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	return domain.Ticket{
		TicketNo:         cell(FieldTicketNo),
		Status:           cell(FieldStatus),
		Type:             cell(FieldType),
		ProjectName:      cell(FieldProjectName),
		Title:            cell(FieldTitle),
		Description:      cell(FieldDescription),
		ResolveMethod:    cell(FieldResolveMethod),
		Level:            cell(FieldLevel),
		ResponseSLA:      parseDuration(cell(FieldResponseSLA)),
		ProcessDuration:  parseDuration(cell(FieldProcessDuration)),
		CompleteDuration: parseDuration(cell(FieldCompleteDuration)),
		Category:         category,
	}
}

// parseDuration returns nil for empty or unparsable cells.
func parseDuration(s string) *float64 {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
