package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/ironsheep/marida-corpus-mcp/internal/catalog"
	"github.com/ironsheep/marida-corpus-mcp/internal/config"
	"github.com/ironsheep/marida-corpus-mcp/internal/dataset"
	"github.com/ironsheep/marida-corpus-mcp/internal/export"
	"github.com/ironsheep/marida-corpus-mcp/internal/monitoring"
	"github.com/ironsheep/marida-corpus-mcp/internal/server"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Configure logging to stderr (stdout is for MCP protocol)
	log.SetOutput(os.Stderr)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 {
		switch args[0] {
		case "--version", "-v", "version":
			fmt.Printf("marida-corpus-mcp %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
			return
		case "--help", "-h", "help":
			usage()
			return
		case "serve", "verify", "stats", "export":
			cmd, args = args[0], args[1:]
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch cmd {
	case "serve":
		err = runServe(args)
	case "verify":
		err = runVerify(ctx, args)
	case "stats":
		err = runStats(ctx, args)
	case "export":
		err = runExport(ctx, args)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func usage() {
	fmt.Println("marida-corpus-mcp - MCP server for the MARIDA marine debris corpus")
	fmt.Println()
	fmt.Println("Usage: marida-mcp [command] [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve     Serve MCP over stdin/stdout (default)")
	fmt.Println("  verify    Check every sample of one or all splits")
	fmt.Println("  stats     Per-band mean and standard deviation of a split")
	fmt.Println("  export    Write a split as TFRecord shards with a manifest")
	fmt.Println()
	fmt.Println("Common options:")
	fmt.Println("  --config PATH    YAML configuration file")
	fmt.Println("  --data DIR       Data directory (default ./data)")
	fmt.Println("  --version, -v    Print version information")
	fmt.Println("  --help, -h       Print this help message")
	fmt.Println()
	fmt.Println("Run 'marida-mcp <command> -h' for command options.")
	fmt.Println()
	fmt.Println("Environment variables:")
	fmt.Println("  MARIDA_DATA_DIR, MARIDA_PATCHES_DIR, MARIDA_SPLITS_DIR    Override directories")
	fmt.Println("  MARIDA_MCP_LOG_LEVEL=debug                                Enable debug logging")
}

// commonFlags registers the configuration flags shared by every command.
type commonFlags struct {
	config  *string
	data    *string
	catalog *string
}

func newFlagSet(name string) (*flag.FlagSet, commonFlags) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return fs, commonFlags{
		config:  fs.String("config", "", "YAML configuration file"),
		data:    fs.String("data", "", "data directory (ignored with -config)"),
		catalog: fs.String("catalog", "", "SQLite verification catalog"),
	}
}

func (f commonFlags) load() (*config.Config, error) {
	cfg := config.Default(*f.data)
	if *f.config != "" {
		var err error
		if cfg, err = config.Load(*f.config); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

func (f commonFlags) openCatalog() (*catalog.Catalog, error) {
	if *f.catalog == "" {
		return nil, nil
	}
	return catalog.Open(*f.catalog)
}

func runServe(args []string) error {
	fs, common := newFlagSet("serve")
	fs.Parse(args)

	cfg, err := common.load()
	if err != nil {
		return err
	}
	var opts []server.Option
	cat, err := common.openCatalog()
	if err != nil {
		return err
	}
	if cat != nil {
		defer cat.Close()
		opts = append(opts, server.WithCatalog(cat))
	}

	monitoring.Debugf("MARIDA MCP Server v%s (built %s, commit %s), data %s", Version, BuildTime, GitCommit, cfg.DataDir)

	srv := server.New(cfg, append(opts, server.WithVersion(Version))...)
	return srv.Run()
}

func runVerify(ctx context.Context, args []string) error {
	fs, common := newFlagSet("verify")
	split := fs.String("split", "", "split to verify (default all)")
	workers := fs.Int("workers", 0, "loader goroutines (default GOMAXPROCS)")
	fs.Parse(args)

	cfg, err := common.load()
	if err != nil {
		return err
	}
	cat, err := common.openCatalog()
	if err != nil {
		return err
	}
	if cat != nil {
		defer cat.Close()
	}

	corpus, err := dataset.OpenCorpus(cfg)
	if err != nil {
		return err
	}
	names := dataset.Splits
	if *split != "" {
		names = []string{*split}
	}

	failed := 0
	for _, name := range names {
		d, err := corpus.Split(name)
		if err != nil {
			return err
		}
		report, err := dataset.Verify(ctx, d, cfg.ImageSize, *workers)
		if err != nil {
			return err
		}
		if cat != nil {
			run, err := cat.Record(report)
			if err != nil {
				return err
			}
			log.Printf("recorded %s verification as run %s", name, run.RunID)
		}
		if err := printJSON(report); err != nil {
			return err
		}
		failed += len(report.Problems)
	}
	if failed > 0 {
		return fmt.Errorf("%d problem(s) found", failed)
	}
	return nil
}

func runStats(ctx context.Context, args []string) error {
	fs, common := newFlagSet("stats")
	split := fs.String("split", dataset.Train, "split to summarize")
	workers := fs.Int("workers", 0, "loader goroutines (default GOMAXPROCS)")
	fs.Parse(args)

	cfg, err := common.load()
	if err != nil {
		return err
	}
	d, err := dataset.Open(cfg, *split)
	if err != nil {
		return err
	}
	stats, err := dataset.BandStatistics(ctx, d, *workers)
	if err != nil {
		return err
	}

	out := make(map[string]dataset.BandStat, len(stats))
	for i, s := range stats {
		name := fmt.Sprintf("band_%d", i)
		if i < len(cfg.Bands) {
			name = cfg.Bands[i]
		}
		out[name] = s
	}
	return printJSON(out)
}

func runExport(ctx context.Context, args []string) error {
	fs, common := newFlagSet("export")
	split := fs.String("split", dataset.Train, "split to export")
	out := fs.String("out", "export", "output directory")
	shards := fs.Int("shards", 1, "number of record files")
	workers := fs.Int("workers", 0, "loader goroutines (default GOMAXPROCS)")
	fs.Parse(args)

	cfg, err := common.load()
	if err != nil {
		return err
	}
	d, err := dataset.Open(cfg, *split)
	if err != nil {
		return err
	}
	m, err := export.Split(ctx, d, *out, export.Options{Shards: *shards, Workers: *workers})
	if err != nil {
		return err
	}
	return printJSON(m)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
