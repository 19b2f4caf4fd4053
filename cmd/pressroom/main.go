package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/pressroom/internal/article"
	"github.com/TobiSchelling/pressroom/internal/collect"
	"github.com/TobiSchelling/pressroom/internal/config"
	"github.com/TobiSchelling/pressroom/internal/database"
	"github.com/TobiSchelling/pressroom/internal/pipeline"
	"github.com/TobiSchelling/pressroom/internal/server"
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
	Use:     "pressroom",
	Short:   "Generate and publish news articles",
	Long:    "pressroom drafts articles from topics, URLs, notes or transcripts, enriches them with SEO, classification, images and translations, and notifies search engines on publication.",
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
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(notifyCmd)
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cacheCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("pressroom", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/pressroom/",
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
		fmt.Println("Edit it to configure the model backend, indexing targets and feeds.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and system status",
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

		fmt.Printf("Database: %s\n\n", db.Path())
		fmt.Println("Articles:")
		fmt.Printf("  Published: %d\n", stats.Articles)
		fmt.Println("\nRuns:")
		fmt.Printf("  Total: %d\n", stats.Runs)
		fmt.Printf("  Degraded: %d\n", stats.DegradedRuns)
		fmt.Printf("  Failed: %d\n", stats.FailedRuns)
		fmt.Println("\nCache:")
		fmt.Printf("  Entries: %d\n", stats.CacheEntries)
		fmt.Println("\nIndexing:")
		fmt.Printf("  Notifications: %d\n", stats.IndexingRecords)
		fmt.Printf("  Targets: %s\n", targetList())

		runs, err := db.ListRuns("", 5)
		if err != nil {
			return err
		}
		if len(runs) > 0 {
			fmt.Println("\nRecent runs:")
			for _, r := range runs {
				fmt.Printf("  %s  %-8s %-10s %s\n", r.StartedAt.Local().Format("2006-01-02 15:04"), r.Status, r.SourceKind, r.SourceSummary)
			}
		}
		return nil
	},
}

// --- generate command ---

var (
	genTopic      string
	genURL        string
	genFile       string
	genTranscript string
	genOrigin     string
	genCategory   string
	genKeywords   []string
	genLanguages  []string
	genPublish    bool
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate an article from a topic, URL, text file or transcript",
	Example: `  pressroom generate --topic "Reforma previsional" --category Política --keywords jubilaciones
  pressroom generate --url https://example.com/nota --publish
  pressroom generate --file notas.txt
  pressroom generate --transcript entrevista.txt --origin https://example.com/video`,
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := sourceFromFlags()
		if err != nil {
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if len(genLanguages) > 0 {
			cfg.Translation.Languages = genLanguages
		}
		pipe := buildPipeline(db)
		pub := buildPublisher(db)

		started := time.Now()
		run, err := pipe.Generate(ctx, in)
		if err != nil {
			if !errors.Is(err, pipeline.ErrEmptySource) {
				if ferr := pub.RecordFailure(uuid.NewString(), in, started, err); ferr != nil {
					log.Printf("Failed to record failed run: %v", ferr)
				}
			}
			return err
		}

		printRun(run)

		if !genPublish {
			if err := db.SaveRun(run.Record()); err != nil {
				return fmt.Errorf("saving run: %w", err)
			}
			fmt.Println("\nNot published. Re-run with --publish to store it and notify search engines.")
			return nil
		}

		out, err := pub.Publish(ctx, run)
		if err != nil {
			return err
		}
		fmt.Printf("\nPublished: %s\n", out.Article.PublishedURL)
		printIndexing(out.Indexing)
		return nil
	},
}

func init() {
	f := generateCmd.Flags()
	f.StringVar(&genTopic, "topic", "", "Write about a topic")
	f.StringVar(&genURL, "url", "", "Rewrite the article at a URL")
	f.StringVar(&genFile, "file", "", "Rewrite raw notes from a text file (- for stdin)")
	f.StringVar(&genTranscript, "transcript", "", "Write up a transcript file (- for stdin)")
	f.StringVar(&genOrigin, "origin", "", "Origin URL of the transcript")
	f.StringVar(&genCategory, "category", "", "Force the article category (topic only)")
	f.StringSliceVar(&genKeywords, "keywords", nil, "Keywords to work in (topic only)")
	f.StringSliceVar(&genLanguages, "languages", nil, "Override translation languages")
	f.BoolVar(&genPublish, "publish", false, "Store the article and notify indexing targets")
	generateCmd.MarkFlagsMutuallyExclusive("topic", "url", "file", "transcript")
	generateCmd.MarkFlagsOneRequired("topic", "url", "file", "transcript")
}

func sourceFromFlags() (article.SourceInput, error) {
	switch {
	case genTopic != "":
		return article.NewTopic(genTopic, genCategory, genKeywords), nil
	case genURL != "":
		return article.NewURL(genURL), nil
	case genFile != "":
		text, err := readInput(genFile)
		if err != nil {
			return article.SourceInput{}, err
		}
		return article.NewRawText(text), nil
	default:
		text, err := readInput(genTranscript)
		if err != nil {
			return article.SourceInput{}, err
		}
		return article.NewTranscript(text, genOrigin), nil
	}
}

func readInput(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}

func printRun(run *pipeline.Run) {
	a := run.Article
	fmt.Printf("\n%s\n", a.Draft.Title)
	fmt.Printf("  Category: %s (confidence %d)\n", a.Classification.Category, a.Classification.Confidence)
	fmt.Printf("  SEO title: %s\n", a.Seo.SeoTitle)
	fmt.Printf("  SEO description: %s\n", a.Seo.SeoDescription)
	fmt.Printf("  Keywords: %s\n", strings.Join(a.Seo.Keywords, ", "))
	fmt.Printf("  Quality: %d/%d\n", a.Quality.Score, a.Quality.MaxScore)
	fmt.Printf("  Image: %s (%s)\n", a.Image.URL, a.Image.Source)

	langs := make([]string, 0, len(a.Translations))
	for lang := range a.Translations {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	if len(langs) > 0 {
		fmt.Printf("  Translations: %s\n", strings.Join(langs, ", "))
	}

	fmt.Printf("\nStages (%s):\n", run.Report.Summary())
	for _, line := range run.Report.Lines() {
		fmt.Printf("  %s\n", line)
	}
}

func printIndexing(rec article.IndexingRecord) {
	if len(rec.Targets) == 0 {
		fmt.Println("No indexing targets configured.")
		return
	}
	fmt.Println("Indexing:")
	for _, t := range rec.Targets {
		line := fmt.Sprintf("  %-12s %s", t.Name, t.Status)
		if t.Detail != "" {
			line += "  " + t.Detail
		}
		fmt.Println(line)
	}
}

// --- notify command ---

var notifyCmd = &cobra.Command{
	Use:   "notify [url]",
	Short: "Notify the indexing targets about a published URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		rec := buildPublisher(db).Notify(context.Background(), nil, args[0])
		printIndexing(rec)
		return nil
	},
}

// --- collect command ---

var (
	collectDays    int
	collectLimit   int
	collectPublish bool
	collectDryRun  bool
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Generate articles from the newest items of the configured sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		seen := func(u string) bool {
			ok, err := db.HasRunForSource(string(article.SourceURL), u)
			return err == nil && ok
		}
		fmt.Println("Collecting items from sources...")
		result := collect.NewCollector(cfg, seen).Collect(ctx, collectDays, collectLimit)

		fmt.Println("\nCollection complete:")
		fmt.Printf("  Total found: %d\n", result.TotalFound)
		fmt.Printf("  Duplicates skipped: %d\n", result.Duplicates)
		fmt.Printf("  Candidates: %d\n", len(result.Candidates))

		if len(result.Sources) > 0 {
			fmt.Println("\nItems by source:")
			// Sort sources by count descending
			type kv struct {
				key string
				val int
			}
			var sorted []kv
			for k, v := range result.Sources {
				sorted = append(sorted, kv{k, v})
			}
			sort.Slice(sorted, func(i, j int) bool { return sorted[i].val > sorted[j].val })
			for _, s := range sorted {
				fmt.Printf("  %s: %d\n", s.key, s.val)
			}
		}

		if collectDryRun || len(result.Candidates) == 0 {
			for _, c := range result.Candidates {
				fmt.Printf("  - %s (%s)\n", c.Entry.Title, c.Entry.URL)
			}
			return nil
		}

		pipe := buildPipeline(db)
		pub := buildPublisher(db)
		var generated, failed int
		for i, c := range result.Candidates {
			fmt.Printf("\n[%d/%d] %s\n", i+1, len(result.Candidates), c.Entry.Title)
			started := time.Now()
			run, err := pipe.Generate(ctx, c.Input)
			if err != nil {
				failed++
				log.Printf("Generation failed for %s: %v", c.Entry.URL, err)
				if ferr := pub.RecordFailure(uuid.NewString(), c.Input, started, err); ferr != nil {
					log.Printf("Failed to record failed run: %v", ferr)
				}
				continue
			}
			generated++
			fmt.Printf("  %s -> %s (%s)\n", run.Article.Draft.Title, run.Article.Classification.Category, run.Report.Summary())
			if !collectPublish {
				if err := db.SaveRun(run.Record()); err != nil {
					log.Printf("Failed to save run %s: %v", run.ID, err)
				}
				continue
			}
			out, err := pub.Publish(ctx, run)
			if err != nil {
				log.Printf("Publishing failed for %s: %v", c.Entry.URL, err)
				continue
			}
			fmt.Printf("  Published: %s\n", out.Article.PublishedURL)
		}

		fmt.Printf("\nGenerated %d article(s), %d failed.\n", generated, failed)
		return nil
	},
}

func init() {
	collectCmd.Flags().IntVar(&collectDays, "days-back", 1, "Only consider items from the last N days")
	collectCmd.Flags().IntVar(&collectLimit, "limit", 5, "Maximum number of articles to generate")
	collectCmd.Flags().BoolVar(&collectPublish, "publish", false, "Store generated articles and notify indexing targets")
	collectCmd.Flags().BoolVar(&collectDryRun, "dry-run", false, "List candidates without generating")
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the JSON API server",
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
		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(buildPipeline(db), buildPublisher(db), db, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (default from config)")
}

// --- cache command ---

var cacheAll bool

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the persistent cache",
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove expired cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := db.PurgeCache(cacheAll, time.Now())
		if err != nil {
			return err
		}
		if cacheAll {
			fmt.Printf("Removed all %d cache entries.\n", n)
		} else {
			fmt.Printf("Removed %d expired cache entries.\n", n)
		}
		return nil
	},
}

func init() {
	cachePurgeCmd.Flags().BoolVar(&cacheAll, "all", false, "Remove every entry, not only expired ones")
	cacheCmd.AddCommand(cachePurgeCmd)
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return database.OpenDataDir(dataDir)
}
