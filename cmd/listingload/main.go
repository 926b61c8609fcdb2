package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"listingload/internal/config"

	// register every backend with the storage factory; the config picks one.
	_ "listingload/internal/storage/all"

	// register the object parsers.
	_ "listingload/internal/parser/json"
	_ "listingload/internal/parser/parquet"
)

const (
	exitOK      = 0
	exitFailed  = 1
	exitConfig  = 2
	defaultPath = "configs/search_results.json"
)

// flags holds the parsed command line.
type flags struct {
	cfgPath        string
	validate       bool
	object         string
	schedule       string
	watch          bool
	logLevel       string
	logFormat      string
	metricsBackend string
	envFile        string
}

func parseFlags(args []string, stderr io.Writer) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("listingload", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.cfgPath, "config", defaultPath, "pipeline config JSON path")
	fs.BoolVar(&f.validate, "validate", false, "validate the configuration and exit")
	fs.StringVar(&f.object, "object", "", "load this object name instead of selecting the latest")
	fs.StringVar(&f.schedule, "schedule", "", "cron expression; run repeatedly until interrupted")
	fs.BoolVar(&f.watch, "watch", false, "file source only: run whenever a matching object appears")
	fs.StringVar(&f.logLevel, "log-level", "info", "debug, info, warn or error")
	fs.StringVar(&f.logFormat, "log-format", "json", "json or console")
	fs.StringVar(&f.metricsBackend, "metrics-backend", "", "metrics backend override (none, pushgateway, datadog)")
	fs.StringVar(&f.envFile, "env-file", ".env", "dotenv file loaded before env overrides; missing is fine")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	if f.watch && f.schedule != "" {
		return f, errors.New("-watch and -schedule are mutually exclusive")
	}
	if f.object != "" && (f.watch || f.schedule != "") {
		return f, errors.New("-object runs once; do not combine it with -watch or -schedule")
	}
	return f, nil
}

// newLogger builds the process logger from the -log-level and -log-format flags.
func newLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	var cfg zap.Config
	switch format {
	case "json", "":
		cfg = zap.NewProductionConfig()
	case "console":
		cfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// loadPipeline reads the config file, then .env, then LISTINGLOAD_* env vars,
// then flag overrides, in increasing precedence.
func loadPipeline(f flags, getenv func(string) string) (config.Pipeline, error) {
	p, err := config.Load(f.cfgPath)
	if err != nil {
		return p, err
	}
	if err := config.ApplyEnv(&p, getenv); err != nil {
		return p, err
	}
	if f.schedule != "" {
		p.Schedule = f.schedule
	}
	if f.metricsBackend != "" {
		p.Metrics.Backend = f.metricsBackend
	}
	return p, nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	f, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(stderr, err)
		return exitConfig
	}

	log, err := newLogger(f.logLevel, f.logFormat)
	if err != nil {
		fmt.Fprintf(stderr, "logger: %v\n", err)
		return exitConfig
	}
	defer func() { _ = log.Sync() }()
	undo := zap.ReplaceGlobals(log)
	defer undo()

	if f.envFile != "" {
		if err := godotenv.Load(f.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("env file not loaded", zap.String("path", f.envFile), zap.Error(err))
		}
	}

	p, err := loadPipeline(f, os.Getenv)
	if err != nil {
		log.Error("configuration not loaded", zap.String("config", f.cfgPath), zap.Error(err))
		return exitConfig
	}

	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		log.Error("configuration is invalid", zap.String("config", f.cfgPath))
		return exitConfig
	}
	if f.validate {
		log.Info("configuration is valid", zap.String("config", f.cfgPath))
		return exitOK
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, p, log)
	if err != nil {
		log.Error("startup failed", zap.Error(err))
		if errors.Is(err, errConfig) {
			return exitConfig
		}
		return exitFailed
	}
	defer a.Close()

	switch {
	case f.watch:
		err = a.watch(ctx)
	case p.Schedule != "":
		err = a.schedule(ctx, p.Schedule)
	default:
		err = a.once(ctx, f.object, json.NewEncoder(stdout))
	}
	return exitCode(err)
}
