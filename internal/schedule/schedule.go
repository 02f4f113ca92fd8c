package schedule

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"ticketlens/internal/analysis"
	"ticketlens/internal/config"
	slackbot "ticketlens/internal/integrations/slack"
	"ticketlens/internal/ingest"
	"ticketlens/internal/mapping"
	"ticketlens/internal/report"
	"ticketlens/internal/storage/sqlite"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Start runs job on the 5-field cron expression in cfg.AnalysisSchedule
// until ctx is done. Examples: "0 9 * * *" (daily 9am), "0 9 * * 1-5"
// (weekdays 9am). It reports whether a schedule was started.
func Start(ctx context.Context, cfg config.Config, job func(context.Context) error) bool {
	spec := strings.TrimSpace(cfg.AnalysisSchedule)
	if spec == "" {
		log.Println("Scheduled analysis disabled (analysis_schedule not set)")
		return false
	}
	sched, err := parser.Parse(spec)
	if err != nil {
		log.Printf("Invalid analysis_schedule '%s': %v, scheduled analysis disabled", spec, err)
		return false
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	log.Printf("Scheduled analysis enabled (cron: %s)", spec)
	go loop(ctx, sched, loc, job)
	return true
}

func loop(ctx context.Context, sched cron.Schedule, loc *time.Location, job func(context.Context) error) {
	for {
		now := time.Now().In(loc)
		next := sched.Next(now)
		wait := next.Sub(now)
		log.Printf("Next scheduled analysis at %s (in %s)", next.Format("Mon Jan 2 15:04"), wait.Round(time.Second))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Println("Scheduled analysis stopped")
			return
		case <-timer.C:
		}

		if err := job(ctx); err != nil {
			log.Printf("Scheduled analysis error: %v", err)
		}
	}
}

// Runner is the scheduled batch: re-import the watched workbook, analyze,
// write the report and publish it.
type Runner struct {
	Cfg       config.Config
	Store     *sqlite.Store
	Table     *mapping.Table
	Service   *analysis.Service
	Publisher *slackbot.Publisher
}

// RunOnce performs one batch and returns the written report path.
func (r *Runner) RunOnce(ctx context.Context) (string, error) {
	var importNote string
	if path := strings.TrimSpace(r.Cfg.WatchWorkbookPath); path != "" {
		rep, err := ingest.ImportFile(ctx, r.Store, r.Table, path)
		importNote = report.FormatImport(rep)
		if err != nil {
			// stale data is still worth analyzing
			log.Printf("Scheduled import error: %v", err)
			importNote += fmt.Sprintf("\nImport failed: %v", err)
		}
		log.Printf("Scheduled import: %s", importNote)
	}

	sum, err := r.Service.RunAll(ctx, 0)
	if err != nil {
		return "", fmt.Errorf("scheduled analysis: %w", err)
	}
	content := report.FormatSummary(sum)
	if importNote != "" {
		content += "\n## Import\n\n" + importNote + "\n"
	}
	path, err := report.WriteFile(r.Cfg.ReportOutputDir, sum.Local.At, sum.RunID, content)
	if err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	log.Printf("Scheduled analysis run=%s report=%s", sum.RunID, path)

	if r.Publisher.Enabled() {
		msg := fmt.Sprintf("Scheduled ticket analysis: %d tickets, %d clusters", sum.Local.Total, sum.Local.Cluster.K)
		if importNote != "" {
			msg = importNote + "\n" + msg
		}
		if err := r.Publisher.PostText(ctx, msg); err != nil {
			log.Printf("Scheduled analysis post error: %v", err)
		}
		if err := r.Publisher.UploadReport(ctx, path, "Ticket analysis", "Run "+sum.RunID); err != nil {
			log.Printf("Scheduled analysis upload error: %v", err)
		}
	}
	return path, nil
}
