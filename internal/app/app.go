package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"ticketlens/internal/analysis"
	"ticketlens/internal/config"
	"ticketlens/internal/domain"
	"ticketlens/internal/httpx"
	"ticketlens/internal/ingest"
	slackbot "ticketlens/internal/integrations/slack"
	"ticketlens/internal/integrations/llm"
	"ticketlens/internal/mapping"
	"ticketlens/internal/report"
	"ticketlens/internal/schedule"
	"ticketlens/internal/storage/sqlite"
	"ticketlens/internal/workbook"
)

// App holds the wired components shared by every command.
type App struct {
	Cfg       config.Config
	Store     *sqlite.Store
	Table     *mapping.Table
	Service   *analysis.Service
	Publisher *slackbot.Publisher
	Out       io.Writer
}

func Main() {
	cfg := config.LoadConfig()
	appliedHTTPTimeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	log.Printf(
		"Config loaded. Provider=%s Model=%s Insight=%t SampleSize=%d K=%d MaxRecords=%d Timezone=%s ExternalHTTPTimeout=%s",
		cfg.LLMProvider,
		cfg.LLMModel,
		cfg.InsightEnabled(),
		cfg.LLMSampleSize,
		cfg.ClusterK,
		cfg.ClusterMaxRecords,
		cfg.Timezone,
		appliedHTTPTimeout,
	)

	a, err := New(cfg)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	err = NewRootCmd(a).Execute()
	a.Close()
	if err != nil {
		os.Exit(1)
	}
}

// New opens the store and mapping table and builds the analysis service.
func New(cfg config.Config) (*App, error) {
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	log.Printf("Database initialized at %s", cfg.DBPath)

	table, err := loadTable(cfg.MappingPath)
	if err != nil {
		store.Close()
		return nil, err
	}

	var requester analysis.InsightRequester
	r, err := llm.NewRequester(cfg)
	switch {
	case err == nil:
		requester = r
	case errors.Is(err, llm.ErrInsightDisabled):
		log.Println("Remote insight disabled")
	default:
		store.Close()
		return nil, fmt.Errorf("insight requester: %w", err)
	}

	return &App{
		Cfg:       cfg,
		Store:     store,
		Table:     table,
		Service:   analysis.NewService(store, requester, cfg),
		Publisher: slackbot.NewPublisher(cfg),
		Out:       os.Stdout,
	}, nil
}

func loadTable(path string) (*mapping.Table, error) {
	if strings.TrimSpace(path) == "" {
		return mapping.Default()
	}
	table, err := mapping.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load mapping %s: %w", path, err)
	}
	log.Printf("Mapping loaded from %s", path)
	return table, nil
}

func (a *App) Close() {
	if a.Store != nil {
		a.Store.Close()
	}
}

var (
	heading = color.New(color.FgCyan, color.Bold).SprintFunc()
	okText  = color.New(color.FgGreen).SprintFunc()
	warn    = color.New(color.FgYellow).SprintFunc()
	dim     = color.New(color.FgHiBlack).SprintFunc()
)

func NewRootCmd(a *App) *cobra.Command {
	root := &cobra.Command{
		Use:          "ticketlens",
		Short:        "Normalize support-ticket workbooks and find recurring issues",
		SilenceUsage: true,
	}
	root.SetOut(a.Out)
	root.AddCommand(
		importCmd(a),
		analyzeCmd(a),
		insightCmd(a),
		statsCmd(a),
		templateCmd(a),
		serveCmd(a),
	)
	return root
}

func importCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "import <workbook.xlsx>",
		Short: "Import a ticket workbook, updating tickets that already exist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := ingest.ImportFile(cmd.Context(), a.Store, a.Table, args[0])
			out := cmd.OutOrStdout()
			if len(rep.Sheets) > 0 || rep.Inserted+rep.Updated > 0 {
				fmt.Fprintln(out, report.FormatImport(rep))
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(out, okText("Import complete"))
			return nil
		},
	}
}

func analyzeCmd(a *App) *cobra.Command {
	var k int
	var withInsight, publish bool
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Count tickets per category and cluster them by text",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			var content, runID string
			var res analysis.LocalResult
			if withInsight {
				sum, err := a.Service.RunAll(ctx, k)
				if err != nil {
					return err
				}
				if sum.InsightErr != nil && !analysis.InsightDisabled(sum.InsightErr) {
					fmt.Fprintf(out, "%s %v\n", warn("Insight failed:"), sum.InsightErr)
				}
				res, runID, content = sum.Local, sum.RunID, report.FormatSummary(sum)
			} else {
				local, err := a.Service.RunLocalAnalysis(ctx, k)
				if err != nil {
					return err
				}
				res, runID, content = local, local.RunID, report.FormatLocal(local)
			}
			fmt.Fprintln(out, content)

			path, err := report.WriteFile(a.Cfg.ReportOutputDir, res.At, runID, content)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %s\n", dim("Report written to"), path)
			if publish {
				return a.publish(ctx, res, path)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", 0, "number of clusters (0 uses cluster_k)")
	cmd.Flags().BoolVar(&withInsight, "insight", false, "also request remote insight for a ticket sample")
	cmd.Flags().BoolVar(&publish, "publish", false, "post the report to the Slack report channel")
	return cmd
}

func (a *App) publish(ctx context.Context, res analysis.LocalResult, path string) error {
	if !a.Publisher.Enabled() {
		return &domain.ValidationError{Field: "slack", Msg: "slack_bot_token and report_channel_id must be set to publish"}
	}
	msg := fmt.Sprintf("Ticket analysis: %d tickets, %d clusters", res.Total, res.Cluster.K)
	if err := a.Publisher.PostText(ctx, msg); err != nil {
		return err
	}
	return a.Publisher.UploadReport(ctx, path, "Ticket analysis", "Run "+res.RunID)
}

func insightCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "insight",
		Short: "Ask the configured language model to correlate a ticket sample",
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := a.Service.RequestInsight(cmd.Context())
			if err != nil {
				if analysis.InsightDisabled(err) {
					return fmt.Errorf("%w: set an API key for %s", err, a.Cfg.LLMProvider)
				}
				return err
			}
			content := report.FormatInsight(run)
			fmt.Fprintln(cmd.OutOrStdout(), content)
			path, err := report.WriteFile(a.Cfg.ReportOutputDir, run.At, run.RunID, content)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", dim("Report written to"), path)
			return nil
		},
	}
}

func statsCmd(a *App) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show ticket counts and recent imports",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			counts, err := a.Store.CountByCategory(ctx)
			if err != nil {
				return err
			}
			total := 0
			fmt.Fprintf(out, "%s\n", heading("Tickets by category"))
			for _, c := range domain.Categories() {
				total += counts[c]
				fmt.Fprintf(out, "  %-10s %d\n", c, counts[c])
			}
			fmt.Fprintf(out, "  %-10s %d\n\n", "total", total)

			runs, err := a.Store.RecentImports(ctx, limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s\n", heading("Recent imports"))
			if len(runs) == 0 {
				fmt.Fprintf(out, "  %s\n", dim("none"))
			}
			for _, r := range runs {
				line := fmt.Sprintf("  %s  %s  %d new, %d updated",
					r.ImportedAt.Format("2006-01-02 15:04"), r.Workbook, r.Inserted, r.Updated)
				if len(r.FailedSheets) > 0 {
					line += " " + warn("failed: "+strings.Join(r.FailedSheets, ", "))
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 5, "number of recent imports to show")
	return cmd
}

func templateCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "template <out.xlsx>",
		Short: "Write an empty workbook with the expected sheets and headers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var order []string
			sheets := make(map[string][][]string)
			for _, m := range a.Table.Sheets {
				header := make([]string, len(m.Columns))
				for i, col := range m.Columns {
					header[i] = col.Header
				}
				order = append(order, m.Sheet)
				sheets[m.Sheet] = [][]string{header}
			}
			if err := workbook.Write(args[0], order, sheets); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okText("Template written to"), args[0])
			return nil
		},
	}
}

func serveCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled import and analysis until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runner := &schedule.Runner{
				Cfg:       a.Cfg,
				Store:     a.Store,
				Table:     a.Table,
				Service:   a.Service,
				Publisher: a.Publisher,
			}
			job := func(ctx context.Context) error {
				_, err := runner.RunOnce(ctx)
				return err
			}
			if !schedule.Start(ctx, a.Cfg, job) {
				return &domain.ValidationError{Field: "analysis_schedule", Msg: "a valid 5-field cron expression is required to serve"}
			}
			log.Println("Starting ticket analysis scheduler...")
			<-ctx.Done()
			log.Println("Shutting down")
			return nil
		},
	}
}
