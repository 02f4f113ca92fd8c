package mapping

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"ticketlens/internal/domain"

	"gopkg.in/yaml.v3"
)

// CurrentVersion is the mapping table format this build understands.
const CurrentVersion = 1

// Canonical field names.
const (
	FieldTicketNo         = "ticket_no"
	FieldStatus           = "status"
	FieldType             = "type"
	FieldProjectName      = "project_name"
	FieldTitle            = "title"
	FieldDescription      = "description"
	FieldResolveMethod    = "resolve_method"
	FieldLevel            = "level"
	FieldResponseSLA      = "response_sla"
	FieldProcessDuration  = "process_duration"
	FieldCompleteDuration = "complete_duration"
)

var knownFields = map[string]bool{
	FieldTicketNo: true, FieldStatus: true, FieldType: true, FieldProjectName: true,
	FieldTitle: true, FieldDescription: true, FieldResolveMethod: true, FieldLevel: true,
	FieldResponseSLA: true, FieldProcessDuration: true, FieldCompleteDuration: true,
}

//go:embed default_mapping.yaml
var defaultMappingYAML []byte

type Column struct {
	Header string `yaml:"header"`
	Field  string `yaml:"field"`
}

type SheetMapping struct {
	Category domain.Category `yaml:"category"`
	Sheet    string          `yaml:"sheet"`
	Columns  []Column        `yaml:"columns"`
}

// Table maps each category to the source sheet and its ordered
// (source header, canonical field) pairs.
type Table struct {
	Version int            `yaml:"version"`
	Sheets  []SheetMapping `yaml:"sheets"`
}

func Default() (*Table, error) {
	return parse(defaultMappingYAML, "default mapping")
}

// Load reads a mapping table from path, or returns the built-in table when
// path is empty.
func Load(path string) (*Table, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping: %w", err)
	}
	return parse(data, path)
}

func parse(data []byte, name string) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse mapping yaml %s: %w", name, err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &t, nil
}

func (t *Table) Validate() error {
	if t.Version != CurrentVersion {
		return &domain.ValidationError{Field: "version", Msg: fmt.Sprintf("unsupported mapping version %d (want %d)", t.Version, CurrentVersion)}
	}
	if len(t.Sheets) == 0 {
		return &domain.ValidationError{Field: "sheets", Msg: "mapping defines no sheets"}
	}
	seen := make(map[domain.Category]bool)
	for i := range t.Sheets {
		c, err := domain.ParseCategory(string(t.Sheets[i].Category))
		if err != nil {
			return &domain.ValidationError{Field: fmt.Sprintf("sheets[%d].category", i), Msg: fmt.Sprintf("unknown category %q", t.Sheets[i].Category)}
		}
		t.Sheets[i].Category = c
		s := t.Sheets[i]
		if seen[s.Category] {
			return &domain.ValidationError{Field: fmt.Sprintf("sheets[%d].category", i), Msg: fmt.Sprintf("category %s mapped twice", s.Category)}
		}
		seen[s.Category] = true
		if strings.TrimSpace(s.Sheet) == "" {
			return &domain.ValidationError{Field: fmt.Sprintf("sheets[%d].sheet", i), Msg: "sheet name is empty"}
		}
		fields := make(map[string]bool)
		for j, c := range s.Columns {
			if !knownFields[c.Field] {
				return &domain.ValidationError{Field: fmt.Sprintf("sheets[%d].columns[%d].field", i, j), Msg: fmt.Sprintf("unknown canonical field %q", c.Field)}
			}
			if fields[c.Field] {
				return &domain.ValidationError{Field: fmt.Sprintf("sheets[%d].columns[%d].field", i, j), Msg: fmt.Sprintf("field %q mapped twice", c.Field)}
			}
			if normalizeHeader(c.Header) == "" {
				return &domain.ValidationError{Field: fmt.Sprintf("sheets[%d].columns[%d].header", i, j), Msg: "header is empty"}
			}
			fields[c.Field] = true
		}
		if !fields[FieldTicketNo] {
			return &domain.ValidationError{Field: fmt.Sprintf("sheets[%d].columns", i), Msg: fmt.Sprintf("category %s does not map %s", s.Category, FieldTicketNo)}
		}
	}
	return nil
}

func (t *Table) ForCategory(c domain.Category) (SheetMapping, bool) {
	for _, s := range t.Sheets {
		if s.Category == c {
			return s, true
		}
	}
	return SheetMapping{}, false
}

// MapSheet maps rows (header row first) of the sheet assigned to category.
func (t *Table) MapSheet(category domain.Category, rows [][]string) (Result, error) {
	m, ok := t.ForCategory(category)
	if !ok {
		return Result{}, &domain.ValidationError{Field: "category", Msg: fmt.Sprintf("no mapping for category %s", category)}
	}
	return m.Map(rows)
}

func normalizeHeader(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
