package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"ticketlens/internal/analysis"
	"ticketlens/internal/domain"
	"ticketlens/internal/ingest"
	"ticketlens/internal/integrations/llm"
)

// FormatLocal renders category counts and clusters as markdown.
func FormatLocal(res analysis.LocalResult) string {
	var b strings.Builder
	b.WriteString("## Ticket overview\n\n")
	fmt.Fprintf(&b, "Total tickets: %d\n\n", res.Total)
	for _, c := range domain.Categories() {
		fmt.Fprintf(&b, "- %s: %d\n", c, res.Counts[c])
	}

	b.WriteString("\n## Clusters\n\n")
	if len(res.Cluster.Clusters) == 0 {
		b.WriteString("No tickets with text to cluster.\n")
		return b.String()
	}
	fmt.Fprintf(&b, "%d tickets in %d clusters.\n\n", res.Sampled, res.Cluster.K)
	for _, c := range res.Cluster.Clusters {
		label := res.Cluster.Labels(c.ID)
		if label == "" {
			label = "(no distinctive terms)"
		}
		fmt.Fprintf(&b, "- Cluster %d (%d tickets): %s\n", c.ID, c.Size, label)
	}
	return b.String()
}

// FormatInsight renders a remote insight result as markdown.
func FormatInsight(run analysis.InsightRun) string {
	res := run.Result
	var b strings.Builder
	b.WriteString("## Insight\n\n")
	if res.Summary != "" {
		b.WriteString(res.Summary + "\n\n")
	}

	b.WriteString("### Findings\n\n")
	if len(res.Findings) == 0 {
		b.WriteString("None.\n")
	}
	for _, f := range res.Findings {
		b.WriteString("- " + f.Description)
		if f.Confidence != nil {
			fmt.Fprintf(&b, " (confidence %.2f)", *f.Confidence)
		}
		if len(f.TicketNos) > 0 {
			b.WriteString(" [" + strings.Join(f.TicketNos, ", ") + "]")
		}
		b.WriteString("\n")
	}

	b.WriteString("\n### Recommendations\n\n")
	if len(res.Recommendations) == 0 {
		b.WriteString("None.\n")
	}
	for i, r := range res.Recommendations {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r.Text)
	}

	if len(res.Categories) > 0 {
		b.WriteString("\n### Categories\n\n")
		labels := make([]string, 0, len(res.Categories))
		for label := range res.Categories {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		for _, label := range labels {
			fmt.Fprintf(&b, "- %s: %d\n", label, res.Categories[label])
		}
	}
	fmt.Fprintf(&b, "\n_%s_\n", usageLine(res))
	return b.String()
}

func usageLine(res llm.InsightResult) string {
	line := fmt.Sprintf("%d tickets sent to %s/%s, %d tokens", len(res.TicketNos), res.Provider, res.Model, res.Usage.TotalTokens())
	if res.Omitted > 0 {
		line += fmt.Sprintf(", %d left out by the payload limit", res.Omitted)
	}
	return line
}

// FormatSummary renders a full analysis run.
func FormatSummary(sum analysis.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Ticket analysis %s\n\n", sum.Local.At.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "Run: %s\n\n", sum.RunID)
	b.WriteString(FormatLocal(sum.Local))
	switch {
	case sum.Insight != nil:
		b.WriteString("\n" + FormatInsight(*sum.Insight))
	case sum.InsightErr != nil && !analysis.InsightDisabled(sum.InsightErr):
		fmt.Fprintf(&b, "\n## Insight\n\nInsight request failed: %v\n", sum.InsightErr)
	}
	return b.String()
}

// FormatImport summarizes a workbook import in one or more lines.
func FormatImport(rep ingest.Report) string {
	msg := fmt.Sprintf("Imported %s: %d new, %d updated", filepath.Base(rep.Workbook), rep.Inserted, rep.Updated)
	var warnings []string
	for _, s := range rep.Sheets {
		if s.Err != nil {
			warnings = append(warnings, s.Err.Error())
		} else if s.Skipped > 0 {
			warnings = append(warnings, fmt.Sprintf("sheet %s: %d rows without ticket number skipped", s.Sheet, s.Skipped))
		}
	}
	if rep.StoreErr != nil {
		warnings = append(warnings, rep.StoreErr.Error())
	}
	if len(warnings) > 0 {
		msg += "\nWarnings:\n" + strings.Join(warnings, "\n")
	}
	return msg
}

// WriteFile stores a rendered report as analysis-<date>-<run>.md.
func WriteFile(outputDir string, at time.Time, runID, content string) (string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", err
	}
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}
	filename := fmt.Sprintf("analysis-%s-%s.md", at.Format("20060102"), short)
	path := filepath.Join(outputDir, filename)
	return path, os.WriteFile(path, []byte(content), 0644)
}
