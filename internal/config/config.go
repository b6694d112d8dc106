// ABOUTME: Configuration loading and parsing for coven-rocket
// ABOUTME: Supports TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/2389/coven-rocket/internal/gate"
)

// Config represents the complete coven-rocket configuration
type Config struct {
	Responder ResponderConfig `toml:"responder"`
	Pairing   PairingConfig   `toml:"pairing"`
	Logging   LoggingConfig   `toml:"logging"`
	Accounts  []AccountConfig `toml:"accounts"`
}

// ResponderConfig holds the external responder endpoint
type ResponderConfig struct {
	URL string `toml:"url"`
}

// PairingConfig holds the pairing-store database location
type PairingConfig struct {
	DatabasePath string `toml:"database_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// AccountConfig holds one chat server account: connection, credentials, and
// access policy. Either auth_token+user_id (a resumable session) or
// username+password (refreshable login) must be provided.
type AccountConfig struct {
	Name string `toml:"name"`
	URL  string `toml:"url"`

	UserID    string `toml:"user_id"`
	AuthToken string `toml:"auth_token"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`

	DirectPolicy     string   `toml:"direct_policy"`
	GroupPolicy      string   `toml:"group_policy"`
	DirectAllow      []string `toml:"direct_allow"`
	GroupAllow       []string `toml:"group_allow"`
	BotHandle        string   `toml:"bot_handle"`
	RequireMention   bool     `toml:"require_mention"`
	MentionPatterns  []string `toml:"mention_patterns"`
	PrefixMode       bool     `toml:"prefix_mode"`
	TriggerPrefixes  []string `toml:"trigger_prefixes"`
	EnforceAllowlist bool     `toml:"enforce_allowlist"`
	CommandBypass    bool     `toml:"command_bypass"`
	Commands         []string `toml:"commands"`
	HistoryLimit     int      `toml:"history_limit"`

	DebounceWindow  time.Duration `toml:"-"`
	WatchdogTimeout time.Duration `toml:"-"`
	PingInterval    time.Duration `toml:"-"`
	InitialBackoff  time.Duration `toml:"-"`
	MaxBackoff      time.Duration `toml:"-"`

	// Raw string values for TOML unmarshaling
	DebounceWindowRaw  string `toml:"debounce_window"`
	WatchdogTimeoutRaw string `toml:"watchdog_timeout"`
	PingIntervalRaw    string `toml:"ping_interval"`
	InitialBackoffRaw  string `toml:"initial_backoff"`
	MaxBackoffRaw      string `toml:"max_backoff"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw TOML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := toml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Responder.URL == "" {
		return fmt.Errorf("responder.url is required")
	}
	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one [[accounts]] entry is required")
	}

	names := make(map[string]bool, len(c.Accounts))
	needsPairing := false
	for i := range c.Accounts {
		a := &c.Accounts[i]
		if a.Name == "" {
			return fmt.Errorf("accounts[%d].name is required", i)
		}
		if names[a.Name] {
			return fmt.Errorf("duplicate account name %q", a.Name)
		}
		names[a.Name] = true

		if a.URL == "" {
			return fmt.Errorf("account %q: url is required", a.Name)
		}
		if err := a.validateCredentials(); err != nil {
			return fmt.Errorf("account %q: %w", a.Name, err)
		}
		if err := a.validatePolicies(); err != nil {
			return fmt.Errorf("account %q: %w", a.Name, err)
		}
		if a.DirectPolicy == string(gate.DirectPairing) {
			needsPairing = true
		}
	}

	if needsPairing && c.Pairing.DatabasePath == "" {
		return fmt.Errorf("pairing.database_path is required when an account uses direct_policy = \"pairing\"")
	}

	return nil
}

// validateCredentials requires a usable credential: a resumable session
// token or login credentials the supervisor can refresh with.
func (a *AccountConfig) validateCredentials() error {
	hasToken := a.AuthToken != "" && a.UserID != ""
	hasLogin := a.Username != "" && a.Password != ""
	if !hasToken && !hasLogin {
		return fmt.Errorf("either auth_token+user_id or username+password is required")
	}
	if a.AuthToken != "" && a.UserID == "" {
		return fmt.Errorf("auth_token requires user_id")
	}
	return nil
}

func (a *AccountConfig) validatePolicies() error {
	switch gate.DirectPolicy(a.DirectPolicy) {
	case "", gate.DirectDisabled, gate.DirectPairing, gate.DirectAllowlist, gate.DirectOpen:
	default:
		return fmt.Errorf("invalid direct_policy %q", a.DirectPolicy)
	}
	switch gate.GroupPolicy(a.GroupPolicy) {
	case "", gate.GroupDisabled, gate.GroupAllowlist, gate.GroupOpen:
	default:
		return fmt.Errorf("invalid group_policy %q", a.GroupPolicy)
	}
	for _, p := range a.MentionPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("invalid mention_pattern %q: %w", p, err)
		}
	}
	return nil
}

// GatePolicy builds the access policy for this account. Mention patterns
// were validated at load time, so compilation here cannot fail.
func (a *AccountConfig) GatePolicy() gate.Policy {
	mentions := make([]*regexp.Regexp, 0, len(a.MentionPatterns))
	for _, p := range a.MentionPatterns {
		if re, err := regexp.Compile(p); err == nil {
			mentions = append(mentions, re)
		}
	}
	return gate.Policy{
		Direct:           gate.DirectPolicy(a.DirectPolicy),
		Group:            gate.GroupPolicy(a.GroupPolicy),
		DirectAllow:      a.DirectAllow,
		GroupAllow:       a.GroupAllow,
		BotHandle:        a.BotHandle,
		Mentions:         mentions,
		RequireMention:   a.RequireMention,
		PrefixMode:       a.PrefixMode,
		TriggerPrefixes:  a.TriggerPrefixes,
		EnforceAllowlist: a.EnforceAllowlist,
		CommandBypass:    a.CommandBypass,
		Commands:         a.Commands,
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	for i := range cfg.Accounts {
		a := &cfg.Accounts[i]
		fields := []struct {
			name string
			raw  string
			dst  *time.Duration
		}{
			{"debounce_window", a.DebounceWindowRaw, &a.DebounceWindow},
			{"watchdog_timeout", a.WatchdogTimeoutRaw, &a.WatchdogTimeout},
			{"ping_interval", a.PingIntervalRaw, &a.PingInterval},
			{"initial_backoff", a.InitialBackoffRaw, &a.InitialBackoff},
			{"max_backoff", a.MaxBackoffRaw, &a.MaxBackoff},
		}
		for _, f := range fields {
			if f.raw == "" {
				continue
			}
			d, err := time.ParseDuration(f.raw)
			if err != nil {
				return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
			}
			*f.dst = d
		}
	}
	return nil
}
