package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/wudi/speclint/config"
	"github.com/wudi/speclint/internal/linter"
	"github.com/wudi/speclint/internal/logging"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (default: speclint.yaml if present)")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	once := flag.Bool("once", false, "Lint the argument files once and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("speclint %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	// Load configuration
	cfg, path, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *validateOnly {
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	files := flag.Args()
	oneShot := *once || len(files) > 0

	// Initialize structured logger; one-shot runs log human-readably
	encoding := cfg.Logging.Encoding
	if oneShot {
		encoding = "console"
	}
	logger, err := logging.New(cfg.Logging.Level, encoding)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	l, err := linter.New(cfg, linter.Options{
		ConfigPath: path,
		Version:    version,
		Logger:     logger,
	})
	if err != nil {
		logging.Error("Failed to assemble linter", zap.Error(err))
		os.Exit(1)
	}

	if oneShot {
		if len(files) == 0 {
			fmt.Fprintln(os.Stderr, "No files to lint")
			os.Exit(2)
		}
		sum, err := l.LintFiles(context.Background(), files, os.Stdout)
		if err != nil {
			logging.Error("Lint failed", zap.Error(err))
			os.Exit(2)
		}
		if sum.Errors > 0 || sum.Failed > 0 {
			os.Exit(1)
		}
		return
	}

	logging.Info("Starting speclint",
		zap.String("version", version),
		zap.String("config", path),
		zap.String("service", cfg.Service.URL),
		zap.String("organization", cfg.Service.Organization),
		zap.String("project", cfg.Service.Project),
	)

	// Run until signalled
	if err := l.Run(); err != nil {
		logging.Error("Linter error", zap.Error(err))
		os.Exit(1)
	}
}

// loadConfig resolves the configuration source: an explicit path, a
// speclint.yaml in the working directory, or environment variables over
// defaults.
func loadConfig(path string) (*config.Config, string, error) {
	loader := config.NewLoader()
	if path != "" {
		cfg, err := loader.Load(path)
		return cfg, path, err
	}
	if _, err := os.Stat("speclint.yaml"); err == nil {
		cfg, err := loader.Load("speclint.yaml")
		return cfg, "speclint.yaml", err
	}
	cfg, err := loader.LoadFromEnv()
	return cfg, "", err
}
