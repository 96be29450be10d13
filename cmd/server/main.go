package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/himanishpuri/LoopProfiler/internal/config"
	"github.com/himanishpuri/LoopProfiler/pkg/logger"
	"github.com/himanishpuri/LoopProfiler/pkg/loopprofiler"
)

var (
	addr           string
	configPath     string
	dataDir        string
	allowedOrigins string
)

func init() {
	flag.StringVar(&addr, "addr", getEnvOrDefault("LOOPPROFILER_ADDR", ":8080"), "HTTP listen address")
	flag.StringVar(&configPath, "config", getEnvOrDefault("LOOPPROFILER_CONFIG", ""), "Configuration file path")
	flag.StringVar(&dataDir, "data-dir", "", "Directory for feedback, model and cache (overrides config and LOOPPROFILER_DATA_DIR)")
	flag.StringVar(&allowedOrigins, "origins", "*", "Comma-separated list of allowed CORS origins (use * for all)")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "*" {
		return []string{"*"}
	}
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func main() {
	flag.Parse()
	log := logger.GetLogger()

	cfg, path, _, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if dataDir != "" {
		abs, err := filepath.Abs(dataDir)
		if err != nil {
			log.Fatalf("Invalid data dir: %v", err)
		}
		cfg.Paths.DataDir = abs
	}
	log.SetLevel(cfg.LogLevel())
	log.SetColorize(cfg.Logging.Color)
	log.Infof("Configuration: %s", path)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := loopprofiler.Open(ctx, loopprofiler.WithConfig(cfg), loopprofiler.WithLogger(log))
	if err != nil {
		log.Fatalf("Failed to open profiler: %v", err)
	}
	for _, rec := range p.Recovered() {
		log.Warnf("%v", rec)
	}

	server := NewServer(p, &ServerConfig{Addr: addr, AllowedOrigins: parseOrigins(allowedOrigins)}, log)
	runErr := server.Run(ctx)
	if err := p.Close(); err != nil {
		log.Errorf("Close: %v", err)
	}
	if runErr != nil {
		log.Fatalf("Server failed: %v", runErr)
	}
}
