package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Kyoto Spread Terminal Configuration

[provider]
# Quote source: "chain" (one option-chain call per group), "quotes" (batch market quotes)
# or "paper" (offline Black-Scholes prices, no token needed)
mode = "chain"
base_url = "https://api.upstox.com/v2"
# Per-request timeout
timeout = "1500ms"

[refresh]
# Pause between refresh ticks
interval = "1s"
# Maximum concurrent group fetches per tick
workers = 4
# Skip a group after this many consecutive failed fetches (0 = never)
breaker_failures = 0
# How long a skipped group waits before one trial fetch
breaker_cooldown = "30s"

[defaults]
underlying = "NIFTY"
# vertical, calendar, butterfly, iron_condor, iron_fly
strategy = "vertical"
strike = 21700.0
strike_step = 50.0

# Symbol -> index instrument key used for option-chain requests
[underlyings]
NIFTY = "NSE_INDEX|Nifty 50"
BANKNIFTY = "NSE_INDEX|Nifty Bank"
FINNIFTY = "NSE_INDEX|Nifty Fin Service"
MIDCPNIFTY = "NSE_INDEX|NIFTY MID SELECT"
SENSEX = "BSE_INDEX|SENSEX"

[paper]
volatility = 0.14

[paper.spots]
NIFTY = 21700.0
BANKNIFTY = 47000.0

[metrics]
enabled = false
addr = "127.0.0.1:9464"

[store]
# Journal every published frame to SQLite
enabled = false
path = ""

[logging]
level = "info"
console = true
file = true

[ui]
color_enabled = true

# Net-cost alerts. Levels are signed: debit positive, credit negative.
[alerts]
bell = true
webhook_url = ""
# [[alerts.rules]]
# tile = 1
# condition = "above"   # above, below, cross_above, cross_below
# level = 40.0

# Seed workspaces. Tiles without legs start with every leg at "strike".
# [[workspaces]]
# name = "Weekly"
#
# [[workspaces.tiles]]
# underlying = "NIFTY"
# expiry = "2024-01-25"
# strategy = "iron_condor"
# legs = [
#   { strike = 21500, type = "PE" },
#   { strike = 21600, type = "PE" },
#   { strike = 21800, type = "CE" },
#   { strike = 21900, type = "CE" },
# ]
`

const credentialsTemplate = `# Kyoto Spread Terminal Credentials
# WARNING: Keep this file secure! Do not commit to version control.
# UPSTOX_ACCESS_TOKEN in the environment or a .env file takes precedence.

[upstox]
access_token = ""
`

func createTemplateConfig(configDir, name string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}

// createTemplateCredentials writes an empty credentials file. The terminal runs
// without a token and reports every group as unauthenticated until one is set.
func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	// Use restricted permissions for credentials file
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return fmt.Errorf("writing credentials template: %w", err)
	}

	return nil
}
