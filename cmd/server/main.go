package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/shinyduck/duckchat/pkg/datastore"
	"github.com/shinyduck/duckchat/pkg/logging"
	"github.com/shinyduck/duckchat/pkg/server"
	"github.com/shinyduck/duckchat/pkg/version"
)

func main() {
	// A missing .env file is fine; env vars may come from the shell.
	_ = godotenv.Load()

	cfg := server.DefaultConfig()

	configFile := flag.String("config", "", "YAML config file path")
	showVersion := flag.Bool("version", false, "Print version and exit")

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "TLS bind address")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database file path")
	flag.StringVar(&cfg.CertFile, "cert", "", "TLS certificate file (auto-generated if empty)")
	flag.StringVar(&cfg.KeyFile, "key", "", "TLS private key file (auto-generated if empty)")
	flag.StringVar(&cfg.DataDir, "data", cfg.DataDir, "Data directory for generated files")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "HTTP bind address for Prometheus /metrics (empty to disable)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: "+logging.LevelNames())
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: text or json")

	// Parse twice so -config is known before flags overlay the file.
	flag.Parse()
	if *configFile != "" {
		if err := server.LoadConfigFile(*configFile, &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "invalid config file: %v\n", err)
			os.Exit(1)
		}
	}
	cfg.ApplyEnv()
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Full())
		return
	}

	if err := logging.Setup(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: os.Stdout,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	st, err := datastore.New(cfg.DBPath)
	if err != nil {
		slog.Error("open database", "err", err)
		os.Exit(1)
	}

	srv := server.New(cfg, server.Dependencies{Store: st})
	if err := srv.Run(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
