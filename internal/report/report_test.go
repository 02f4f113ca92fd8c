package report

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ticketlens/internal/analysis"
	"ticketlens/internal/cluster"
	"ticketlens/internal/domain"
	"ticketlens/internal/ingest"
	"ticketlens/internal/integrations/llm"
)

func localResult() analysis.LocalResult {
	return analysis.LocalResult{
		RunID: "0f8fad5b-d9cb-469f-a165-70867728950e",
		At:    time.Date(2026, 3, 9, 8, 30, 0, 0, time.UTC),
		Total: 6,
		Counts: map[domain.Category]int{
			domain.CategoryHardware: 3,
			domain.CategorySystem:   2,
			domain.CategoryNetwork:  1,
		},
		Sampled: 6,
		Cluster: cluster.Result{
			K: 2,
			Clusters: []cluster.Summary{
				{ID: 0, Size: 4, TopTerms: []cluster.TermWeight{{Term: "printer", Weight: 2}, {Term: "jam", Weight: 1}}},
				{ID: 1, Size: 2},
			},
		},
	}
}

func TestFormatLocal(t *testing.T) {
	out := FormatLocal(localResult())
	for _, want := range []string{
		"Total tickets: 6",
		"- hardware: 3",
		"- service: 0",
		"- Cluster 0 (4 tickets): printer, jam",
		"- Cluster 1 (2 tickets): (no distinctive terms)",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestFormatLocalWithoutClusters(t *testing.T) {
	out := FormatLocal(analysis.LocalResult{Counts: map[domain.Category]int{}})
	if !strings.Contains(out, "No tickets with text to cluster.") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestFormatInsight(t *testing.T) {
	conf := 0.75
	out := FormatInsight(analysis.InsightRun{Result: llm.InsightResult{
		Summary:         "Printers dominate.",
		Findings:        []llm.Finding{{Description: "Line 2 printers jam", Confidence: &conf, TicketNos: []string{"HW-1", "HW-2"}}},
		Recommendations: []llm.Recommendation{{Text: "Replace rollers"}},
		Categories:      map[string]int{"printing": 4, "access": 2},
		Provider:        "openai",
		Model:           "gpt-4o-mini",
		TicketNos:       []string{"HW-1", "HW-2"},
		Omitted:         3,
	}})
	for _, want := range []string{
		"Printers dominate.",
		"- Line 2 printers jam (confidence 0.75) [HW-1, HW-2]",
		"1. Replace rollers",
		"- access: 2\n- printing: 4",
		"3 left out by the payload limit",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestFormatSummaryReportsInsightFailure(t *testing.T) {
	sum := analysis.Summary{
		RunID:      "run-1",
		Local:      localResult(),
		InsightErr: &domain.RemoteServiceError{Provider: "anthropic", Timeout: true},
	}
	out := FormatSummary(sum)
	if !strings.Contains(out, "# Ticket analysis 2026-03-09 08:30") || !strings.Contains(out, "Insight request failed") {
		t.Fatalf("unexpected summary:\n%s", out)
	}

	sum.InsightErr = llm.ErrInsightDisabled
	if strings.Contains(FormatSummary(sum), "## Insight") {
		t.Fatal("disabled insight should not be reported as a failure")
	}
}

func TestFormatImport(t *testing.T) {
	out := FormatImport(ingest.Report{
		Workbook: "/data/tickets.xlsx",
		Inserted: 4,
		Updated:  1,
		Sheets: []ingest.SheetResult{
			{Sheet: "硬件工单", Records: 5, Skipped: 2},
			{Sheet: "网络工单", Err: &domain.SchemaMismatchError{Category: domain.CategoryNetwork, Sheet: "网络工单"}},
		},
		StoreErr: errors.New("disk full"),
	})
	for _, want := range []string{"Imported tickets.xlsx: 4 new, 1 updated", "2 rows without ticket number skipped", "网络工单", "disk full"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestWriteFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	res := localResult()
	path, err := WriteFile(dir, res.At, res.RunID, "content")
	if err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if filepath.Base(path) != "analysis-20260309-0f8fad5b.md" {
		t.Fatalf("unexpected file name %s", filepath.Base(path))
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "content" {
		t.Fatalf("unexpected file content %q err=%v", data, err)
	}
}
