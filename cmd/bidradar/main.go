package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/BidRadar/internal/collect"
	"github.com/TobiSchelling/BidRadar/internal/config"
	"github.com/TobiSchelling/BidRadar/internal/database"
	"github.com/TobiSchelling/BidRadar/internal/notice"
	"github.com/TobiSchelling/BidRadar/internal/pipeline"
	"github.com/TobiSchelling/BidRadar/internal/progress"
	"github.com/TobiSchelling/BidRadar/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "bidradar",
	Short:   "Procurement notice radar",
	Long:    "BidRadar collects procurement notices from several sources, filters and scores them for fit, and keeps the best in a local database.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		} else {
			log.SetFlags(log.LstdFlags)
		}

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			log.Printf("Warning: could not read .env: %v", err)
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("bidradar", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/bidradar/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure sources, vocabulary, and LLM provider.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and source status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		today := time.Now().Format(notice.DateLayout)
		stats, err := db.Stats(cmd.Context(), today)
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Today: %s\n", today)
		fmt.Printf("Database: %s\n\n", db.Path())
		fmt.Println("Opportunities:")
		fmt.Printf("  Total: %d\n", stats.Total)
		fmt.Printf("  Open: %d\n", stats.Open)
		fmt.Println("\nRuns:")
		fmt.Printf("  Total: %d\n", stats.Runs)
		if r := stats.LastRun; r != nil {
			fmt.Printf("  Last: %s (%s)\n", r.StartedAt, r.Message)
			fmt.Printf("  Fetched %d, kept %d, %d new, %d updated, %d errors\n",
				r.Fetched, r.Kept, r.Created, r.Updated, r.ErrorCount)
		}

		fmt.Println("\nSources:")
		hc := collect.NewHTTPClientFromConfig(cfg)
		for _, src := range collect.SourcesFromConfig(cfg, hc, collect.NewSnapshotStore(cfg.SnapshotDir())) {
			fmt.Printf("  %s\n", src.Name())
		}
		return nil
	},
}

// --- ingest command ---

var (
	ingestLimit int
	rulesOnly   bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run one ingestion pass: collect -> filter -> score -> blend -> save",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pipe := pipeline.New(cmd.Context(), cfg, db, progress.New())
		summary := pipe.Ingest(cmd.Context(), pipeline.Options{Limit: ingestLimit, RulesOnly: rulesOnly})

		fmt.Println()
		fmt.Println(summary.Message)
		if summary.Ingested > 0 {
			fmt.Printf("  New: %d\n", summary.Created)
			fmt.Printf("  Updated: %d\n", summary.Updated)
		}
		if len(summary.Errors) > 0 {
			fmt.Println("\nErrors:")
			for _, e := range summary.Errors {
				fmt.Printf("  %s\n", e)
			}
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().IntVar(&ingestLimit, "limit", 0, "Max notices per source (0 uses the configured maximum)")
	ingestCmd.Flags().BoolVar(&rulesOnly, "rules-only", false, "Skip external relevance judgment")
}

// --- list command ---

var (
	listSearch string
	listOpen   bool
	listLimit  int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored opportunities, best first",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		items, err := db.ListOpportunities(cmd.Context(), database.Query{
			Search:   listSearch,
			OpenOnly: listOpen,
			Today:    time.Now().Format(notice.DateLayout),
			Limit:    listLimit,
		})
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("No opportunities stored. Run: bidradar ingest")
			return nil
		}

		for _, o := range items {
			fmt.Printf("%5.1f  %s\n", o.Score, o.Title)
			meta := o.Agency
			if o.DueDate != "" {
				meta += "  due " + o.DueDate
			}
			if o.Source != "" {
				meta += "  [" + o.Source + "]"
			}
			fmt.Printf("       %s\n", meta)
			if o.URL != "" {
				fmt.Printf("       %s\n", o.URL)
			}
		}
		return nil
	},
}

func init() {
	listCmd.Flags().StringVarP(&listSearch, "search", "s", "", "Filter by text in title, description, agency or summary")
	listCmd.Flags().BoolVar(&listOpen, "open", false, "Only opportunities that have not closed")
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "Max rows")
}

// --- snapshot command ---

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Refresh the saved MERX listing snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		hc := collect.NewHTTPClientFromConfig(cfg)
		merx := collect.NewMERXFromConfig(cfg, hc, collect.NewSnapshotStore(cfg.SnapshotDir()))

		saved, err := merx.RefreshSnapshots(cmd.Context())
		for _, path := range saved {
			fmt.Printf("Saved %s\n", path)
		}
		if err != nil {
			return fmt.Errorf("refreshing snapshots: %w", err)
		}
		return nil
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local JSON API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		prog := progress.New()
		srv := server.New(db, pipeline.New(ctx, cfg, db, prog), prog)

		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(ctx, srv, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (default from config)")
}

func openDB() (*database.DB, error) {
	return database.Open(cfg.DBPath())
}
