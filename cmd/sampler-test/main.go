package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/skobkin/erwait-web/internal/sampler"
	"github.com/skobkin/erwait-web/internal/sink"
)

type options struct {
	sourceURL  string
	timezone   string
	timeout    time.Duration
	appendPath string
	jsonOutput bool
}

func parseFlags() options {
	defaultSource := envOrDefault("APP_SOURCE_URL", "")
	defaultTimezone := envOrDefault("APP_TIMEZONE", "America/New_York")

	var opts options
	flag.StringVar(&opts.sourceURL, "source", defaultSource, "Wait-time endpoint URL")
	flag.StringVar(&opts.timezone, "timezone", defaultTimezone, "Timezone for the capture timestamp")
	flag.DurationVar(&opts.timeout, "timeout", 10*time.Second, "Fetch timeout")
	flag.StringVar(&opts.appendPath, "append", "", "Append the sample to this CSV file")
	flag.BoolVar(&opts.jsonOutput, "json", false, "Emit the sample as JSON instead of a CSV row")
	flag.Parse()
	return opts
}

func main() {
	opts := parseFlags()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if opts.sourceURL == "" {
		logger.Error("source URL required", "hint", "pass -source or set APP_SOURCE_URL")
		os.Exit(1)
	}

	location, err := time.LoadLocation(opts.timezone)
	if err != nil {
		logger.Error("invalid timezone", "timezone", opts.timezone, "err", err)
		os.Exit(1)
	}

	reader, err := sampler.NewReader(opts.sourceURL, opts.timeout, location, logger.With("component", "sampler_reader"))
	if err != nil {
		logger.Error("reader init failed", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	sample, err := reader.Fetch(ctx)
	if err != nil {
		logger.Error("fetch failed", "err", err)
		os.Exit(1)
	}

	if opts.jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(sample); err != nil {
			logger.Error("encode sample", "err", err)
			os.Exit(1)
		}
	} else {
		fmt.Println(sample.CSVRow())
	}

	if opts.appendPath == "" {
		return
	}

	fileSink, err := sink.NewFileSink(opts.appendPath, logger)
	if err != nil {
		logger.Error("sink init failed", "err", err)
		os.Exit(1)
	}
	if err := fileSink.Append(ctx, sample); err != nil {
		logger.Error("append failed", "path", opts.appendPath, "err", err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
