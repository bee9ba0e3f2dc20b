package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/ytget/mirrorresolve"
	"github.com/ytget/mirrorresolve/errs"
	"github.com/ytget/mirrorresolve/internal/logger"
	"github.com/ytget/mirrorresolve/pkg/client"
)

func main() {
	var (
		flagTimeout   time.Duration
		flagRetries   int
		flagUA        string
		flagProxy     string
		flagBase      string
		flagQuality   string
		flagAll       bool
		flagLogConfig string
		flagLogLevel  string
		flagLogFormat string
	)

	flag.DurationVar(&flagTimeout, "http-timeout", 30*time.Second, "HTTP timeout (e.g., 30s, 1m)")
	flag.IntVar(&flagRetries, "retries", 3, "HTTP retries for transient errors")
	flag.StringVar(&flagUA, "ua", "", "Override User-Agent header")
	flag.StringVar(&flagProxy, "proxy", "", "Proxy URL (http/https/socks)")
	flag.StringVar(&flagBase, "base", "", "Catalog base domain (e.g., https://catalog.example)")
	flag.StringVar(&flagQuality, "quality", "", "Preferred quality label for the default entry (e.g., 720p)")
	flag.BoolVar(&flagAll, "all", false, "Resolve every entry, not only the default one")
	flag.StringVar(&flagLogConfig, "log-config", "", "Path to a JSON logging config")
	flag.StringVar(&flagLogLevel, "log-level", "", "Log level (trace, debug, info, warn, error); enables all components")
	flag.StringVar(&flagLogFormat, "log-format", "", "Log format (text, json, color)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] [mirrors.json]\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "\nReads a JSON array of {\"label\",\"ref\"} objects from the file or stdin.")
		fmt.Fprintln(os.Stderr, "\nFlags:")
		flag.PrintDefaults()
	}
	flag.Parse()

	log, err := setupLogger(flagLogConfig, flagLogLevel, flagLogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid logging setup: %v\n", err)
		os.Exit(2)
	}

	var in io.Reader = os.Stdin
	if args := flag.Args(); len(args) > 0 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open input: %v\n", err)
			os.Exit(2)
		}
		defer f.Close()
		in = f
	}
	mirrors, err := readMirrors(in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid input: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c := client.NewWith(client.Config{Timeout: flagTimeout, Retries: flagRetries, UserAgent: flagUA, ProxyURL: flagProxy})
	r := mirrorresolve.New().
		WithLogger(log).
		WithClient(c).
		WithBaseDomain(flagBase).
		WithQuality(flagQuality)

	set, err := r.Resolve(ctx, mirrors)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}

	out := newReport(set)
	if flagAll {
		results, err := r.ResolveEntries(ctx, set)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitCode(err))
		}
		out.addResults(set, results)
	}
	out.State = r.State()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if !set.Default.OK() {
		os.Exit(1)
	}
}

func setupLogger(path, level, format string) (*logger.Logger, error) {
	cfg := logger.EnvironmentConfig()
	if path != "" {
		fileCfg, err := logger.LoadConfigFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}
	if level != "" {
		cfg.Level = strings.ToUpper(level)
		if cfg.Components == nil {
			cfg.Components = make(map[string]bool, len(logger.Components))
		}
		for _, c := range logger.Components {
			cfg.Components[string(c)] = true
		}
	}
	if format != "" {
		cfg.Format = format
	}
	if err := cfg.ValidateConfig(); err != nil {
		return nil, err
	}
	return logger.CreateLoggerFromConfig(cfg)
}

func exitCode(err error) int {
	if errs.IsCanceled(err) {
		return 130
	}
	return 1
}
