// riskfolio — investor risk profiling and report-grounded investment advice.
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/seenimoa/riskfolio/api"
	"github.com/seenimoa/riskfolio/internal/config"
	"github.com/seenimoa/riskfolio/internal/llm"
	"github.com/seenimoa/riskfolio/internal/logging"
	"github.com/seenimoa/riskfolio/web"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config and logger, set by the root command.
var (
	cfg    *config.Config
	logger *slog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "riskfolio",
	Short: "riskfolio — investor risk profiling and investment advice",
	Long: `riskfolio scores the investor suitability questionnaire into one of five
risk bands and answers investment questions for that profile using
ingested PDF reports, web pages and news feeds.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			cfg.Logging.Level = level
		}
		if dir, _ := cmd.Flags().GetString("store"); dir != "" {
			cfg.Store.PersistDir = dir
		}
		logger = logging.Setup(cfg.Logging)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("store", "", "document store directory (overrides store.persist_dir)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(surveyCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(askCmd)
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("riskfolio %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Serve Command (API Server) ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if port, _ := cmd.Flags().GetInt("port"); port > 0 {
			cfg.API.Port = port
		}

		svc, err := buildServices(ctx, cfg, logger)
		if err != nil {
			return err
		}

		srv := api.NewServer(cfg, api.Deps{
			Advisor:  svc.advisor,
			Store:    svc.store,
			Pipeline: svc.pipeline,
			Metrics:  svc.metrics,
			Logger:   logger,
			UI:       web.DistFS(),
			Version:  version,
		})
		color.Cyan("riskfolio API server on http://%s", cfg.API.Addr())
		return srv.ListenAndServe(ctx, cfg.API.Addr())
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "listen port (overrides api.port)")
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration, credentials and store status",
	RunE: func(cmd *cobra.Command, args []string) error {
		bold := color.New(color.Bold)
		fmt.Println("═══════════════════════════════════════")
		bold.Println("  riskfolio — System Status")
		fmt.Println("═══════════════════════════════════════")
		fmt.Printf("  Version:       %s (%s)\n", version, commit)
		fmt.Println()

		fmt.Println("  Configuration:")
		fmt.Printf("    LLM Provider:  %s (model: %s)\n", cfg.LLM.Primary, cfg.LLM.Model)
		fmt.Printf("    Embeddings:    %s (model: %s)\n", cfg.Embedding.Provider, cfg.Embedding.Model)
		fmt.Printf("    Chunking:      %d / %d tokens\n", cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
		fmt.Printf("    API Server:    %s\n", cfg.API.Addr())
		fmt.Println()

		fmt.Println("  API Keys:")
		for _, k := range config.CheckAPIKeys(cfg) {
			status := color.RedString("not set")
			if k.IsSet {
				status = color.GreenString("set (%s: %s)", k.Source, k.Masked)
			}
			fmt.Printf("    %-25s %s\n", k.Name+":", status)
		}
		fmt.Println()

		if ping, _ := cmd.Flags().GetBool("ping"); ping {
			fmt.Println("  LLM Providers:")
			router, err := llm.NewRouterFromConfig(cfg, logger)
			if err != nil {
				fmt.Printf("    %s\n", color.RedString(err.Error()))
			} else {
				results := router.HealthCheck(cmd.Context())
				names := router.ProviderNames()
				sort.Strings(names)
				for _, name := range names {
					state := color.GreenString("ok")
					if err := results[name]; err != nil {
						state = color.RedString(err.Error())
					}
					fmt.Printf("    %-25s %s\n", name+":", state)
				}
			}
			fmt.Println()
		}

		fmt.Println("  Document Store:")
		if cfg.Store.PersistDir == "" {
			fmt.Println("    in-memory (set store.persist_dir or --store to keep documents)")
		} else {
			store, err := openStore(context.Background(), cfg, logger)
			if err != nil {
				return err
			}
			v := store.Version()
			fmt.Printf("    Directory:     %s\n", cfg.Store.PersistDir)
			if v.IsZero() {
				fmt.Println("    Generation:    none (run `riskfolio ingest`)")
			} else {
				fmt.Printf("    Generation:    %d (%s)\n", v.Generation, v.ID)
				fmt.Printf("    Documents:     %d\n", v.Documents)
				fmt.Printf("    Indexed:       %s\n", v.CreatedAt.Format("2006-01-02 15:04:05 MST"))
			}
		}
		fmt.Println("═══════════════════════════════════════")
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("ping", false, "check that each configured LLM provider answers")
}

// rootContext returns a context cancelled on interrupt.
func rootContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}
