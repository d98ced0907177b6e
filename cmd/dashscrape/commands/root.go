package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dashscrape/internal/cache"
	"dashscrape/internal/components/chrono"
	"dashscrape/internal/components/telemetry"
	"dashscrape/internal/fetch"
	"dashscrape/lib/configutil"
	"dashscrape/lib/osutil"
	oteltelemetry "dashscrape/lib/telemetry"

	"github.com/spf13/cobra"
)

const defaultConfigName = "dashscrape.json5"

const (
	report_cli_close = "cli.close"
)

var (
	configPath   string
	disableCache bool
	verbose      bool
	dumpHttp     string
	timeout      time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "dashscrape",
	Short: "dashscrape downloads dashboard datasets into a directory of JSON files.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(verbose)
	},
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "The json5 config file, defaults to the nearest "+defaultConfigName+".")
	flags.BoolVar(&disableCache, "disable-cache", false, "Ignore cached responses and do not write new ones.")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Log debug messages.")
	flags.StringVar(&dumpHttp, "dump-http", "", "Write every http request and response into this directory.")
	flags.DurationVar(&timeout, "timeout", 0, "Give up on the whole run after this long, 0 means never.")
}

func ExecuteContext(ctx context.Context) {
	ctx, stop := osutil.SignalContext(ctx)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// dirArgs reads the optional [cache] [dest] positional arguments.
func dirArgs(args []string) (string, string) {
	cacheDir, dest := "cache", "dest"
	if len(args) > 0 {
		cacheDir = args[0]
	}
	if len(args) > 1 {
		dest = args[1]
	}
	return cacheDir, dest
}

func loadConfig() (Config, error) {
	path := configPath
	if path == "" {
		found, err := configutil.FindUp(defaultConfigName)
		if err == nil {
			path = found
		} else {
			path = defaultConfigName
		}
	}
	cfg, err := configutil.ReadConfigWithDefaults(path, defaultConfig())
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return cfg, nil
}

func runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// env is what every command builds before scraping.
type env struct {
	cfg     Config
	tel     telemetry.API
	dump    telemetry.InstrumentOutput
	fetcher fetch.Fetcher
	stores  *stores
	otel    oteltelemetry.Telemetry
}

func newEnv(ctx context.Context, cacheDir string) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	tel := telemetry.SlogAPI{}

	var dump telemetry.InstrumentOutput
	if dumpHttp != "" {
		out, err := telemetry.NewFilesystemOutput(dumpHttp)
		if err != nil {
			return nil, fmt.Errorf("dump http: %w", err)
		}
		dump = out
	}

	otel, err := oteltelemetry.Setup(ctx, "dashscrape", cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}
	if otel.MeterProvider != nil {
		oteltelemetry.InstrumentPerfStats(ctx, 30*time.Second)
	}

	s, err := openStores(ctx, cfg.Cache, cacheDir)
	if err != nil {
		otel.Shutdown(ctx)
		return nil, err
	}

	client := fetch.NewHttpClient(cfg.httpOptions(), tel, dump)
	return &env{
		cfg:     cfg,
		tel:     tel,
		dump:    dump,
		fetcher: fetch.NewFetcher(client, cfg.fetchOptions(), chrono.NewStandardImpl(), tel),
		stores:  s,
		otel:    otel,
	}, nil
}

// finish exports the counters of the run and prints them.
func (e *env) finish(ctx context.Context, source string, c counters) {
	oteltelemetry.RecordRun(ctx, source, map[string]int{
		"downloaded":      c.downloaded,
		"read-from-cache": c.readFromCache,
		"processed":       c.processed,
		"files-written":   c.filesWritten,
		"errors":          c.errors,
	})
	printCounters(c)
}

func (e *env) Close() {
	err := e.stores.Close()
	if err != nil {
		e.tel.ReportWarning(report_cli_close, err, "close cache")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = e.otel.Shutdown(ctx)
	if err != nil {
		e.tel.ReportWarning(report_cli_close, err, "shutdown telemetry")
	}
}

// stores hands out the cache store of each kind of entry.
type stores struct {
	closer func() error
	open   func(prefix, ext string) (cache.Store, error)
}

func (s *stores) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

func openStores(ctx context.Context, cfg CacheConfig, dir string) (*stores, error) {
	if disableCache {
		return &stores{open: func(string, string) (cache.Store, error) {
			return cache.Disabled{}, nil
		}}, nil
	}

	switch cfg.Driver {
	case cacheDriverFiles:
		return &stores{open: func(prefix, ext string) (cache.Store, error) {
			return cache.NewFileStore(dir, prefix, ext)
		}}, nil
	case cacheDriverSqlite:
		err := os.MkdirAll(dir, 0755)
		if err != nil {
			return nil, err
		}
		db, err := cache.OpenSQLite(ctx, filepath.Join(dir, "cache.db"))
		if err != nil {
			return nil, err
		}
		return &stores{
			closer: db.Close,
			open: func(prefix, _ string) (cache.Store, error) {
				return cache.Prefixed{Store: db, Prefix: prefix}, nil
			},
		}, nil
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Driver)
	}
}
