package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/rlsnotes/internal/config"
	"github.com/TobiSchelling/rlsnotes/internal/database"
	"github.com/TobiSchelling/rlsnotes/internal/pipeline"
	"github.com/TobiSchelling/rlsnotes/internal/server"
	"github.com/TobiSchelling/rlsnotes/internal/ui"
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
	Use:     "rlsnotes",
	Short:   "Consolidated release notes from merged pull requests",
	Long:    "rlsnotes collects merged pull requests across repositories, classifies them, and has a language model consolidate them into one release document.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "init" || cmd.Name() == "version" {
			setLogFlags(verbose)
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		setLogFlags(verbose || strings.EqualFold(cfg.Logging.Level, "debug"))
		return nil
	},
}

func setLogFlags(debug bool) {
	if debug {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	} else {
		log.SetFlags(log.LstdFlags)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("rlsnotes", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/rlsnotes/",
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
		fmt.Println("Edit it to list repositories, tokens, and the LLM provider.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show run history statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, ui.HeaderStyle.Render("Releases"))
		ui.KeyValue(out, "Generated", stats.Releases)
		ui.KeyValue(out, "Failed runs", stats.FailedRuns)
		last := "never"
		if stats.LastGenerated != nil {
			last = *stats.LastGenerated
		}
		ui.KeyValue(out, "Last generated", last)

		fmt.Fprintln(out)
		fmt.Fprintln(out, ui.HeaderStyle.Render("Pull requests"))
		ui.KeyValue(out, "Recorded", stats.ChangeRecords)
		ui.KeyValue(out, "Repositories", stats.Repos)
		ui.KeyValue(out, "Breaking", stats.BreakingChange)

		if v, err := db.SchemaVersion(); err == nil {
			fmt.Fprintln(out)
			ui.KeyValue(out, "Database", fmt.Sprintf("%s (schema v%d)", db.Path(), v))
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, ui.HeaderStyle.Render("Configuration"))
		ui.KeyValue(out, "Repos configured", len(cfg.Repos))
		ui.KeyValue(out, "LLM", cfg.LLM.Provider+" / "+cfg.LLM.Model)
		ui.KeyValue(out, "Output", cfg.Render.Outfile+" ("+cfg.Render.Format+")")
		return nil
	},
}

// --- run command ---

var (
	dryRun    bool
	overrides config.Overrides
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline: fetch -> classify -> consolidate -> render -> write",
	RunE: func(cmd *cobra.Command, args []string) error {
		targets, err := cfg.Targets(overrides)
		if err != nil {
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pipe, err := pipeline.FromConfig(cfg, db, overrides, dryRun)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		var result *pipeline.Result
		if dryRun {
			result, err = pipe.DryRun(ctx, targets)
		} else {
			result, err = pipe.Run(ctx, targets)
		}

		out := cmd.OutOrStdout()
		total := 6
		if dryRun {
			total = 3
		}
		if result != nil {
			for i, step := range result.Steps {
				ui.Step(out, i+1, total, step.Name, step.Summary, step.Err)
			}
		}
		if err != nil {
			return err
		}

		if dryRun {
			fmt.Fprintln(out)
			fmt.Fprintln(out, ui.HeaderStyle.Render("Prompt"))
			fmt.Fprintln(out, result.Prompt)
			return nil
		}
		fmt.Fprintf(out, "\nRelease notes written to %s. Run 'rlsnotes serve' to browse history.\n", result.Outfile)
		return nil
	},
}

func init() {
	f := runCmd.Flags()
	f.BoolVar(&dryRun, "dry-run", false, "Fetch and classify, print the prompt, and skip the model call")
	f.StringSliceVar(&overrides.Repos, "repo", nil, "Repository as owner/name (repeatable, replaces configured repos)")
	f.StringVar(&overrides.SinceRef, "since-ref", "", "Older tag or commit (empty: previous tag)")
	f.StringVar(&overrides.UntilRef, "until-ref", "", "Newer tag or commit")
	f.StringVar(&overrides.SinceDate, "since-date", "", "Fallback lower date bound (YYYY-MM-DD)")
	f.StringVar(&overrides.Outfile, "outfile", "", "Output file path")
	f.StringVar(&overrides.Format, "format", "", "Output format: md or html")
}

// --- history command ---

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		releases, err := db.ListReleases(historyLimit)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(releases) == 0 {
			fmt.Fprintln(out, "No releases recorded. Generate one with: rlsnotes run")
			return nil
		}
		for _, r := range releases {
			generated := ""
			if r.GeneratedAt != nil {
				generated = *r.GeneratedAt
			}
			fmt.Fprintf(out, "  [%d] %s  %s  %s  %s\n", r.ID, ui.Status(r.Status), generated, r.Window, strings.Join(r.Repos, ", "))
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of runs to list (0 for all)")
}

// --- show command ---

var showCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Print a recorded release (latest when no ID is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		var release *database.Release
		if len(args) == 0 {
			release, err = db.GetLatestRelease()
		} else {
			id, perr := strconv.ParseInt(args[0], 10, 64)
			if perr != nil {
				return fmt.Errorf("invalid release ID: %s", args[0])
			}
			release, err = db.GetRelease(id)
		}
		if err != nil {
			return err
		}
		if release == nil {
			return fmt.Errorf("release not found")
		}

		out := cmd.OutOrStdout()
		if release.Status == database.StatusFailed {
			fmt.Fprintf(out, "Run %d failed: %s\n", release.ID, deref(release.Error))
			return nil
		}
		fmt.Fprint(out, deref(release.Markdown))

		counts, err := db.CategoryCounts(release.ID)
		if err != nil {
			return err
		}
		if len(counts) > 0 {
			keys := make([]string, 0, len(counts))
			for k := range counts {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Fprintln(out)
			for _, k := range keys {
				ui.KeyValue(out, k, counts[k])
			}
		}
		return nil
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local web server for release history",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(ctx, db, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return database.Open(filepath.Join(dataDir, "rlsnotes.db"))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
