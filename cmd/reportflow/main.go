package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/config"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/execute"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/guard"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/llm"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/logging"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/pipeline"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/report"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/schema"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/seed"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/server"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/summarize"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/translate"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/types"
)

var (
	// Global flags
	configPath string
	workspace  string
	verbose    bool
	timeout    time.Duration

	cfg *config.Config
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "reportflow",
	Short: "reportflow - natural-language questions to PDF data reports",
	Long: `reportflow takes a natural-language question, translates it to SQL
against a fixed SQLite schema via an LLM, validates the statement with an
allow-list guard, executes it read-only, and renders a PDF report with a
data table and a prose summary.

Typical flow:
  reportflow seed                          # build the sample database
  reportflow ask "Customer count by state" # produce reports/report.pdf`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.DebugMode = true
			cfg.Logging.Level = "debug"
		}

		ws := workspace
		if ws == "" {
			ws, _ = os.Getwd()
		}
		return logging.Initialize(ws, logging.Options{
			DebugMode:  cfg.Logging.DebugMode,
			Categories: cfg.Logging.Categories,
			Level:      cfg.Logging.Level,
			JSONFormat: cfg.Logging.JSONFormat,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
	},
}

// askCmd runs the pipeline for one or more questions.
var askCmd = &cobra.Command{
	Use:   "ask [question]...",
	Short: "Answer questions with PDF reports",
	Long: `Runs the full pipeline for each question: translate to SQL, validate,
execute, shape, summarize, render. Multiple questions run concurrently,
each writing its own report file.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

// serveCmd starts the manual-test HTTP front-end.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the pipeline over HTTP (POST /ask)",
	RunE:  runServe,
}

// seedCmd builds the sample database.
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Generate the sample database (customers, products, purchases)",
	RunE:  runSeed,
}

// schemaCmd prints the loaded catalog.
var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Show the tables and columns the translator can query",
	RunE:  runSchema,
}

var (
	seedCustomers int
	seedProducts  int
	seedPurchases int
	seedValue     int64
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "reportflow.yaml", "Config file path")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Per-question timeout")

	defaults := seed.DefaultOptions()
	seedCmd.Flags().IntVar(&seedCustomers, "customers", defaults.Customers, "Number of customers to generate")
	seedCmd.Flags().IntVar(&seedProducts, "products", defaults.Products, "Number of products to generate")
	seedCmd.Flags().IntVar(&seedPurchases, "purchases", defaults.Purchases, "Number of purchases to generate")
	seedCmd.Flags().Int64Var(&seedValue, "seed", defaults.Seed, "Random seed (same seed, same data)")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(schemaCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRunner assembles the pipeline from the loaded config.
func buildRunner(outputPath string) (*pipeline.Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	catalog, err := schema.Load(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	client := llm.NewGeminiClientWithConfig(llm.GeminiConfig{
		APIKey:          cfg.LLM.APIKey,
		BaseURL:         cfg.LLM.BaseURL,
		Model:           cfg.LLM.Model,
		Timeout:         cfg.GetLLMTimeout(),
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
	})

	return pipeline.NewRunner(
		catalog,
		translate.New(client, catalog),
		guard.New(catalog, cfg.Database.RowLimit),
		execute.New(cfg.Database.Path, cfg.Database.RowLimit, cfg.GetQueryTimeout()),
		summarize.New(client, summarize.Options{
			MaxAttempts:    cfg.Summarizer.MaxAttempts,
			InitialBackoff: cfg.GetSummarizerBackoff(),
			MaxPromptRows:  cfg.Summarizer.MaxPromptRows,
		}),
		report.New(report.Options{MaxTableRows: cfg.Report.MaxTableRows}),
		pipeline.Options{
			OutputPath:  outputPath,
			Placeholder: cfg.Summarizer.Placeholder,
		},
	), nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	runner, err := buildRunner(cfg.OutputPath())
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, question := range args {
		outputPath := cfg.OutputPath()
		if len(args) > 1 {
			outputPath = filepath.Join(cfg.Report.OutputDir, fmt.Sprintf("report-%d.pdf", i+1))
		}
		q := question
		g.Go(func() error {
			runCtx, runCancel := context.WithTimeout(ctx, timeout)
			defer runCancel()

			rep, err := runner.RunTo(runCtx, types.Question{Text: q}, outputPath)
			if err != nil {
				if sf, ok := pipeline.AsStageFailure(err); ok {
					return fmt.Errorf("%q failed at %s: %w", q, sf.Stage, sf.Cause)
				}
				return err
			}
			note := ""
			if rep.Degraded {
				note = " (summary unavailable)"
			}
			fmt.Printf("%s -> %s%s\n", q, rep.Path, note)
			return nil
		})
	}
	return g.Wait()
}

func runServe(cmd *cobra.Command, args []string) error {
	runner, err := buildRunner(cfg.OutputPath())
	if err != nil {
		return err
	}
	srv := server.New(runner, timeout)
	fmt.Printf("listening on http://%s\n", cfg.Server.ListenAddr)
	return srv.ListenAndServe(cfg.Server.ListenAddr)
}

func runSeed(cmd *cobra.Command, args []string) error {
	opts := seed.Options{
		Customers: seedCustomers,
		Products:  seedProducts,
		Purchases: seedPurchases,
		Seed:      seedValue,
	}
	fmt.Printf("seeding %s (%d customers, %d products, %d purchases)...\n",
		cfg.Database.Path, opts.Customers, opts.Products, opts.Purchases)
	if err := seed.Create(cfg.Database.Path, opts); err != nil {
		return err
	}
	fmt.Println("done")
	return nil
}

func runSchema(cmd *cobra.Command, args []string) error {
	catalog, err := schema.Load(cfg.Database.Path)
	if err != nil {
		return err
	}
	for _, table := range catalog.Describe() {
		fmt.Printf("%s\n", table.Name)
		for _, col := range table.Columns {
			nullable := "NOT NULL"
			if col.Nullable {
				nullable = "NULL"
			}
			fmt.Printf("  %-24s %-10s %s\n", col.Name, col.Type, nullable)
		}
	}
	fmt.Printf("fingerprint: %s\n", catalog.Fingerprint())
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
