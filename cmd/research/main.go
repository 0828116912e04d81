// Package main provides the research command line tool. It runs analysis
// jobs in-process and prints their progress.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/helixir/research-analysis-service/internal/app"
	"github.com/helixir/research-analysis-service/internal/config"
	"github.com/helixir/research-analysis-service/internal/domain"
	"github.com/helixir/research-analysis-service/internal/observability"
	"github.com/helixir/research-analysis-service/internal/pipeline"
)

// builder assembles the service for one invocation.
type builder func(ctx context.Context, cfg *config.Config) (*app.App, error)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(config.Load, buildApp)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// buildApp assembles the service without a metrics endpoint. Logs go to
// stderr so stdout carries only progress and the report.
func buildApp(ctx context.Context, cfg *config.Config) (*app.App, error) {
	cfg.Metrics.Enabled = false
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     "console",
		Output:     "stderr",
		TimeFormat: time.Kitchen,
	})
	return app.New(ctx, cfg, logger)
}

func newRootCmd(load func() (*config.Config, error), build builder) *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:           "research",
		Short:         "Run research analysis jobs from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level for diagnostics written to stderr")

	loadConfig := func() (*config.Config, error) {
		cfg, err := load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg.Logging.Level = logLevel
		return cfg, nil
	}

	root.AddCommand(newRunCmd(loadConfig, build), newSourcesCmd(loadConfig))
	return root
}

type runFlags struct {
	sources        []string
	maxPapers      int
	threshold      float64
	timeout        time.Duration
	knowledgeGraph bool
	jsonOutput     bool
}

func newRunCmd(load func() (*config.Config, error), build builder) *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run <query>",
		Short: "Run an analysis job and print its progress",
		Long: `Run retrieves documents for the query, removes near duplicates,
summarizes and synthesizes them, and builds their citation network.
Progress events are printed as they happen. Interrupting the command
cancels the job.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			opts := domain.JobOptions{
				MaxPapers:             f.maxPapers,
				Sources:               f.sources,
				IncludeKnowledgeGraph: f.knowledgeGraph,
				Timeout:               f.timeout,
			}
			if cmd.Flags().Changed("threshold") {
				threshold := f.threshold
				opts.DedupThreshold = &threshold
			}

			svc, err := build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			return runJob(cmd.Context(), svc, strings.Join(args, " "), opts, f.jsonOutput, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&f.sources, "sources", nil, "Sources to search (default: all enabled)")
	flags.IntVar(&f.maxPapers, "max-papers", 0, "Maximum number of documents kept after retrieval")
	flags.Float64Var(&f.threshold, "threshold", 0, "Near-duplicate similarity threshold in [0, 1]")
	flags.DurationVar(&f.timeout, "timeout", 0, "Wall-clock budget for the job")
	flags.BoolVar(&f.knowledgeGraph, "knowledge-graph", false, "Extract entities and relations during synthesis")
	flags.BoolVar(&f.jsonOutput, "json", false, "Print the full report as JSON")

	return cmd
}

// runJob submits one job, streams its events to out and prints the report.
// Cancelling ctx cancels the job and waits for its terminal event.
func runJob(ctx context.Context, svc *app.App, query string, opts domain.JobOptions, jsonOutput bool, out io.Writer) error {
	id := pipeline.NewJobID()

	// Subscribe before submitting so no event is missed.
	sub := svc.Events.Subscribe(id)
	defer sub.Close()

	if _, err := svc.Orchestrator.SubmitWithID(context.WithoutCancel(ctx), id, query, opts); err != nil {
		return err
	}
	fmt.Fprintf(out, "job %s submitted\n", id)

	interrupted := ctx.Done()
	for {
		select {
		case <-interrupted:
			interrupted = nil
			fmt.Fprintln(out, "cancelling job")
			if err := svc.Orchestrator.Cancel(id); err != nil {
				return err
			}
		case ev, ok := <-sub.Events():
			if !ok {
				return finish(ctx, svc, id, jsonOutput, out)
			}
			printEvent(out, ev)
			if ev.IsTerminal() {
				return finish(ctx, svc, id, jsonOutput, out)
			}
		}
	}
}

func finish(ctx context.Context, svc *app.App, id string, jsonOutput bool, out io.Writer) error {
	job, err := svc.Orchestrator.Get(id)
	if err != nil {
		return err
	}
	if job.Status != domain.JobStatusCompleted {
		if job.Err != nil {
			return fmt.Errorf("job %s %s: %w", id, job.Status, job.Err)
		}
		return fmt.Errorf("job %s %s", id, job.Status)
	}

	report, err := svc.Orchestrator.Report(context.WithoutCancel(ctx), id)
	if err != nil {
		return err
	}
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printReport(out, report)
	return nil
}

func printEvent(out io.Writer, ev domain.ProgressEvent) {
	line := fmt.Sprintf("[%3d%%] %-22s %-9s", ev.Progress, ev.Stage, ev.Kind)
	if ev.Total > 0 {
		line += fmt.Sprintf(" %d/%d", ev.Current, ev.Total)
	}
	if ev.Message != "" {
		line += " " + ev.Message
	}
	if ev.Err != nil {
		line += " error: " + ev.Err.Error()
	}
	fmt.Fprintln(out, strings.TrimRight(line, " "))
}

func printReport(out io.Writer, r *domain.Report) {
	fmt.Fprintf(out, "\nReport %s\n", r.ID)
	fmt.Fprintf(out, "Query: %s\n", r.Query)
	fmt.Fprintf(out, "Documents: %d (clusters: %d)\n", len(r.Documents), len(r.Clusters))
	if len(r.SourceFailures) > 0 {
		fmt.Fprintf(out, "Failed sources: %s\n", strings.Join(r.SourceFailures, ", "))
	}
	if r.TokensUsed > 0 {
		fmt.Fprintf(out, "Tokens used: %d\n", r.TokensUsed)
	}

	if r.Synthesis.Narrative != "" {
		fmt.Fprintf(out, "\n%s\n", r.Synthesis.Narrative)
	}
	printList(out, "Themes", r.Synthesis.Themes)
	printList(out, "Research gaps", r.Synthesis.ResearchGaps)

	if len(r.Citations.MostCited) > 0 {
		fmt.Fprintln(out, "\nMost cited:")
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		for _, d := range r.Citations.MostCited {
			fmt.Fprintf(tw, "  %d\t%d\t%s\n", d.InDegree, d.Year, d.Title)
		}
		tw.Flush()
	}
}

func printList(out io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(out, "\n%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(out, "  - %s\n", item)
	}
}

func newSourcesCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List the configured document sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SOURCE\tENABLED\tBASE URL\tRATE LIMIT")
			for _, s := range []struct {
				name string
				cfg  config.PaperSourceConfig
			}{
				{string(domain.SourceTypeArXiv), cfg.PaperSources.ArXiv},
				{string(domain.SourceTypeSemanticScholar), cfg.PaperSources.SemanticScholar},
				{string(domain.SourceTypeOpenAlex), cfg.PaperSources.OpenAlex},
				{string(domain.SourceTypeArXivListing), cfg.PaperSources.ArXivListing},
			} {
				fmt.Fprintf(tw, "%s\t%t\t%s\t%.2f/s\n", s.name, s.cfg.Enabled, s.cfg.BaseURL, s.cfg.RateLimit)
			}
			return tw.Flush()
		},
	}
}
