package main

import (
	"flag"
	"fmt"
	"os"

	"AgentChat/internal/chat"
	"AgentChat/internal/config"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "agentchat.toml", "Path to TOML config file")

	defaults := config.Default()
	endpoint := flag.String("endpoint", "", "Agent WebSocket endpoint (overrides config)")
	credential := flag.String("credential", "", "Connection credential (overrides config)")
	dbPath := flag.String("db", "", "SQLite session store path (default "+defaults.DBPath+")")
	logDir := flag.String("log-dir", "", "Log directory (default "+defaults.LogDir+")")
	debug := flag.Bool("debug", false, "Enable debug logging")

	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Flags override file values.
	if *endpoint != "" {
		cfg.Endpoint = *endpoint
	}
	if *credential != "" {
		cfg.Credential = *credential
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *logDir != "" {
		cfg.LogDir = *logDir
	}
	if *debug {
		cfg.Debug = true
	}

	client, err := chat.NewClient(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize client: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	if err := client.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
