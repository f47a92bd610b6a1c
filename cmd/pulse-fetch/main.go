// Command pulse-fetch downloads the tracked indicators from the World Bank and
// Our World in Data, publishes the assembled raw dataset to the blob store and
// prunes old uploads.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"pulse/internal/blob"
	"pulse/internal/core"
	"pulse/internal/sources"
	"pulse/pkg/globeapi"
)

var (
	exitFunc = os.Exit
	now      = time.Now
)

func main() {
	exitFunc(cli(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	from, to     int
	countries    []globeapi.CountryCode
	worldBankURL string
	owidURL      string
	timeout      time.Duration
	dryRun       bool
}

func cli(args []string, stdout, stderr io.Writer) int {
	opts, code, ok := parseFlags(args, stderr)
	if !ok {
		return code
	}
	cfg, err := core.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()
	if err := run(ctx, cfg, opts, stdout, logger); err != nil {
		logger.Error("fetch_failed", slog.Any("err", err))
		return 1
	}
	return 0
}

func parseFlags(args []string, stderr io.Writer) (options, int, bool) {
	fs := flag.NewFlagSet("pulse-fetch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	from := fs.Int("from", 2000, "first year to fetch")
	to := fs.Int("to", 0, "last year to fetch (default current year)")
	countries := fs.String("countries", "", "comma-separated ISO3 codes (default the tracked list)")
	wbURL := fs.String("worldbank-url", sources.DefaultWorldBankURL, "World Bank API root")
	owidURL := fs.String("owid-url", sources.DefaultOWIDURL, "OWID CO2 database URL")
	timeout := fs.Duration("timeout", 10*time.Minute, "overall deadline")
	dryRun := fs.Bool("dry-run", false, "print the document instead of publishing it")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return options{}, 0, false
		}
		return options{}, 2, false
	}

	opts := options{from: *from, to: *to, worldBankURL: *wbURL, owidURL: *owidURL, timeout: *timeout, dryRun: *dryRun}
	if opts.to == 0 {
		opts.to = now().Year()
	}
	if opts.from <= 0 || opts.to < opts.from {
		_, _ = fmt.Fprintf(stderr, "invalid year range %d..%d\n", opts.from, opts.to)
		return options{}, 2, false
	}
	if opts.timeout <= 0 {
		_, _ = fmt.Fprintln(stderr, "timeout must be positive")
		return options{}, 2, false
	}
	if *countries != "" {
		for _, raw := range strings.Split(*countries, ",") {
			code, ok := globeapi.ParseCountryCode(raw)
			if !ok {
				_, _ = fmt.Fprintf(stderr, "invalid country code %q\n", raw)
				return options{}, 2, false
			}
			opts.countries = append(opts.countries, code)
		}
	}
	return opts, 0, true
}

func run(ctx context.Context, cfg core.Config, opts options, stdout io.Writer, logger *slog.Logger) error {
	client := &http.Client{Timeout: 5 * time.Minute}
	b := &sources.Builder{
		WorldBank: sources.NewWorldBank(opts.worldBankURL, client),
		OWID:      sources.NewOWID(opts.owidURL, client),
		Countries: opts.countries,
		FromYear:  opts.from,
		ToYear:    opts.to,
		Logger:    logger,
	}
	raw, err := b.Build(ctx)
	if err != nil {
		return err
	}
	if opts.dryRun {
		_, err := stdout.Write(append(raw, '\n'))
		return err
	}

	store, err := blob.Open(ctx)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	info, err := core.Publish(ctx, store, cfg.DatasetPrefix, raw, now())
	if err != nil {
		return err
	}
	logger.Info("dataset_published", slog.String("key", info.Key), slog.String("size", humanize.Bytes(uint64(info.Size))))
	pruned, err := core.Prune(ctx, store, cfg.DatasetPrefix, cfg.FetchRetain)
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}
	if len(pruned) > 0 {
		logger.Info("datasets_pruned", slog.Any("keys", pruned))
	}
	_, _ = fmt.Fprintln(stdout, info.Key)
	return nil
}
