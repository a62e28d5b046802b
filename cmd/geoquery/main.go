package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/evyataryagoni/geoquery/internal/cache"
	"github.com/evyataryagoni/geoquery/internal/config"
	"github.com/evyataryagoni/geoquery/internal/logger"
	"github.com/evyataryagoni/geoquery/internal/pool"
	"github.com/evyataryagoni/geoquery/internal/service"
	"github.com/evyataryagoni/geoquery/internal/store"
	"github.com/spf13/cobra"
)

// main runs the query engine in-process and prints results as JSON
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	datastore string
	path      string
	cacheType string
	workers   int
	logLevel  string
	indent    bool
	showStats bool
}

func newRootCmd(out io.Writer) *cobra.Command {
	appConfig := config.Load()
	opts := &options{
		datastore: appConfig.DatastoreType,
		path:      appConfig.DatastorePath,
		cacheType: "memory",
		workers:   appConfig.WorkerPoolSize,
		logLevel:  "warn",
	}

	rootCmd := &cobra.Command{
		Use:          "geoquery",
		Short:        "Resolve IP addresses to geographic and network data",
		Long:         `Runs the geoquery engine in-process against the configured lookup backend and prints JSON results.`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.datastore, "datastore", "d", opts.datastore, "lookup backend: csv, mysql, postgres, redis or maxmind")
	flags.StringVarP(&opts.path, "path", "p", opts.path, "CSV file for the csv backend")
	flags.StringVar(&opts.cacheType, "cache", opts.cacheType, "cache backend: memory, redis or auto")
	flags.IntVarP(&opts.workers, "workers", "w", opts.workers, "worker pool size")
	flags.StringVar(&opts.logLevel, "log-level", opts.logLevel, "log level written to stderr")
	flags.BoolVar(&opts.indent, "indent", false, "indent JSON output")
	flags.BoolVar(&opts.showStats, "stats", false, "print the stats snapshot after the results")

	rootCmd.AddCommand(newLookupCmd(appConfig, opts, out), newBatchCmd(appConfig, opts, out))
	return rootCmd
}

func newLookupCmd(appConfig *config.Config, opts *options, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <ip>...",
		Short: "Look up one or more addresses",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			geo, err := newEngine(cmd.Context(), appConfig, opts)
			if err != nil {
				return err
			}
			defer geo.Close()

			enc := newEncoder(out, opts.indent)
			for _, ip := range args {
				if err := enc.Encode(geo.QueryOne(cmd.Context(), ip)); err != nil {
					return err
				}
			}
			return printStats(cmd.Context(), enc, geo, opts)
		},
	}
}

func newBatchCmd(appConfig *config.Config, opts *options, out io.Writer) *cobra.Command {
	var file string
	var chunkSize int

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Look up addresses read from a file, one per line",
		RunE: func(cmd *cobra.Command, args []string) error {
			addresses, err := readAddresses(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			if len(addresses) == 0 {
				return fmt.Errorf("no addresses in %s", file)
			}

			geo, err := newEngine(cmd.Context(), appConfig, opts)
			if err != nil {
				return err
			}
			defer geo.Close()

			enc := newEncoder(out, opts.indent)
			if err := enc.Encode(geo.QueryBatch(cmd.Context(), addresses, chunkSize)); err != nil {
				return err
			}
			return printStats(cmd.Context(), enc, geo, opts)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "-", "file with one address per line ('-' reads stdin)")
	cmd.Flags().IntVarP(&chunkSize, "chunk-size", "c", appConfig.BatchChunkSize, "addresses per chunk")
	return cmd
}

// newEngine builds the same engine the server runs, scaled for a single process run
func newEngine(ctx context.Context, appConfig *config.Config, opts *options) (*service.GeoService, error) {
	log := logger.NewWriter(os.Stderr, opts.logLevel)

	backend, err := store.New(store.Config{
		Type:            opts.datastore,
		CSVPath:         opts.path,
		MySQLDSN:        appConfig.MySQLDSN,
		PostgresDSN:     appConfig.PostgresDSN,
		MaxMindCityPath: appConfig.MaxMindCityPath,
		MaxMindASNPath:  appConfig.MaxMindASNPath,
		RedisAddr:       appConfig.RedisAddr,
		RedisPassword:   appConfig.RedisPassword,
		RedisDB:         appConfig.RedisDB,
		MaxOpenConns:    opts.workers,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", opts.datastore, err)
	}

	workerPool, err := pool.New(backend, pool.Config{
		Size:          opts.workers,
		LookupTimeout: appConfig.LookupTimeout,
	}, log)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("start worker pool: %w", err)
	}

	resultCache, err := cache.New(ctx, cache.Config{
		Type:          opts.cacheType,
		Capacity:      appConfig.CacheCapacity,
		SweepInterval: appConfig.CacheSweepInterval,
		RedisAddr:     appConfig.RedisAddr,
		RedisPassword: appConfig.RedisPassword,
		RedisDB:       appConfig.CacheRedisDB,
	}, log)
	if err != nil {
		workerPool.Close()
		backend.Close()
		return nil, fmt.Errorf("open cache: %w", err)
	}

	return service.New(service.Deps{
		Backend: backend,
		Cache:   resultCache,
		Pool:    workerPool,
		Logger:  log,
	}, service.Options{
		CacheTTL:         appConfig.CacheTTL,
		BatchCacheTTL:    appConfig.BatchCacheTTL,
		ChunkSize:        appConfig.BatchChunkSize,
		ConcurrencyLimit: int64(appConfig.ConcurrencyLimit),
		Pacing:           appConfig.BatchPacing,
		Coalesce:         appConfig.CoalesceLookups,
		CacheBatches:     appConfig.CacheBatches,
	})
}

// readAddresses reads one address per line, skipping blanks and # comments
func readAddresses(stdin io.Reader, file string) ([]string, error) {
	src := stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return nil, fmt.Errorf("open address file: %w", err)
		}
		defer f.Close()
		src = f
	}

	var addresses []string
	scanner := bufio.NewScanner(src)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		addresses = append(addresses, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read addresses: %w", err)
	}
	return addresses, nil
}

func newEncoder(out io.Writer, indent bool) *json.Encoder {
	enc := json.NewEncoder(out)
	if indent {
		enc.SetIndent("", "  ")
	}
	return enc
}

func printStats(ctx context.Context, enc *json.Encoder, geo *service.GeoService, opts *options) error {
	if !opts.showStats {
		return nil
	}
	return enc.Encode(geo.Stats(ctx))
}
