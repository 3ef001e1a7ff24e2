// Command kyoto is a live multi-leg option spread terminal.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"kyoto-terminal/internal/cli"
	"kyoto-terminal/internal/config"
	"kyoto-terminal/internal/logging"
)

func main() {
	// A missing .env is fine; the environment and credentials.toml still apply.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("KYOTO_CONFIG_DIR"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logCfg := logging.DefaultLogConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Console = cfg.Logging.Console
	logCfg.File = cfg.Logging.File
	logger := logging.NewLoggerWithConfig(logCfg)

	rootCmd := cli.NewRootCmd(cfg, logger)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
