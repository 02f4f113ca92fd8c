package domain

import (
	"fmt"
	"strings"
	"time"
)

type Category string

const (
	CategoryHardware Category = "hardware"
	CategorySystem   Category = "system"
	CategoryService  Category = "service"
	CategoryNetwork  Category = "network"
)

var allCategories = []Category{CategoryHardware, CategorySystem, CategoryService, CategoryNetwork}

// Categories returns the closed category set in display order.
func Categories() []Category {
	out := make([]Category, len(allCategories))
	copy(out, allCategories)
	return out
}

func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range allCategories {
		if c == known {
			return c, nil
		}
	}
	return "", &ValidationError{Field: "category", Msg: fmt.Sprintf("unknown category %q", s)}
}

type Ticket struct {
	TicketNo      string
	Status        string
	Type          string
	ProjectName   string
	Title         string
	Description   string
	ResolveMethod string
	Level         string

	// Durations are nil when the source cell was empty or unparsable.
	ResponseSLA      *float64
	ProcessDuration  *float64
	CompleteDuration *float64

	Category   Category
	ImportedAt time.Time
}

// Text is the clustering/sampling input: title and description joined.
func (t Ticket) Text() string {
	return strings.TrimSpace(strings.TrimSpace(t.Title) + " " + strings.TrimSpace(t.Description))
}

func (t Ticket) HasText() bool {
	return t.Text() != ""
}
