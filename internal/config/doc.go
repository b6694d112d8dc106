// Package config handles configuration loading for coven-rocket.
//
// # Overview
//
// Configuration is loaded from TOML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_ROCKET_CONFIG environment variable
//  2. ./config.toml (current directory)
//  3. ~/.config/coven/rocket.toml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	[[accounts]]
//	auth_token = "${ROCKET_AUTH_TOKEN}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	debounce_window = "2s"
//	watchdog_timeout = "120s"
//	ping_interval = "30s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Responder endpoint:
//
//	[responder]
//	url = "http://localhost:8080/api/turns"
//
// Pairing store:
//
//	[pairing]
//	database_path = "/var/lib/coven/pairing.db"
//
// Logging:
//
//	[logging]
//	level = "info"   # debug, info, warn, error
//	format = "text"  # text, json
//
// Accounts (one block per chat server):
//
//	[[accounts]]
//	name = "main"
//	url = "https://chat.example.com"
//	user_id = "bot-user-id"
//	auth_token = "${ROCKET_AUTH_TOKEN}"
//	direct_policy = "pairing"      # disabled, pairing, allowlist, open
//	group_policy = "allowlist"     # disabled, allowlist, open
//	group_allow = ["alice", "bob"]
//	bot_handle = "covenbot"
//	require_mention = true
//
// # Validation
//
// Load() validates:
//
//   - Responder URL presence
//   - Credential completeness per account (token+id or username+password)
//   - Policy value and mention-pattern validity
//   - Duration format validity
//   - Pairing database path when any account pairs
package config
