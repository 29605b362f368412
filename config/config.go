package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dhcgn/mail-attachment-extractor/credential"
)

const (
	envPrefix        = "MAE"
	defaultTLSPort   = 993
	defaultPlainPort = 143
)

// Config captures all options required to run an extraction.
type Config struct {
	ConfigFile         string
	MboxPath           string
	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	UseTLS             bool
	StartTLS           bool
	InsecureSkipVerify bool
	Folder             string
	Dest               string
	Limit              int
	BatchSize          int
	MappingFile        string
	LedgerDB           string
	MetricsFile        string
	LogDir             string
	LogLevel           string
}

// UsesIMAP reports whether the run reads from a server rather than an mbox file.
func (c Config) UsesIMAP() bool {
	return c.IMAPHost != ""
}

// lookupPassword is the last step of the password fallback chain.
var lookupPassword = credential.Lookup

// RegisterFlags attaches the shared CLI flags to cmd and its subcommands.
func RegisterFlags(cmd *cobra.Command) error {
	flags := cmd.PersistentFlags()
	flags.String("config", "", "Optional YAML config file; keys match flag names")
	flags.String("mbox", "", "Read from a local .mbox file instead of an IMAP server")
	flags.String("imap-host", "", "IMAP server hostname")
	flags.Int("imap-port", defaultTLSPort, "IMAP server port (143 when --starttls is set)")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to IMAP_PASS env var, then the system keyring)")
	flags.Bool("use-tls", true, "Use implicit TLS for the IMAP connection")
	flags.Bool("starttls", false, "Upgrade a plain IMAP connection with STARTTLS")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("folder", "INBOX", "Mailbox folder to search; INBOX alone misses archived mail, Gmail users want \"[Gmail]/All Mail\"")
	flags.String("dest", ".", "Destination directory; attachments go to <dest>/attachments")
	flags.Int("limit", 0, "Maximum number of messages to process (0 = no limit)")
	flags.IntP("batch", "s", 10, "Number of messages fetched per request")
	flags.String("mapping-file", "", "Append the stored-name mapping to this JSONL file")
	flags.String("ledger-db", "", "Record runs and their mapping in this SQLite database")
	flags.String("metrics-file", "", "Write run metrics to this Prometheus textfile")
	flags.String("log-dir", "", "Also write logs to a timestamped file in this directory")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")

	cmd.SetGlobalNormalizationFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		if name == "simultaneous" {
			name = "batch"
		}
		return pflag.NormalizedName(name)
	})

	return nil
}

// LoadConfig resolves flags, environment and config file into a validated Config.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	cfg, err := LoadSettings(cmd)
	if err != nil {
		return Config{}, err
	}
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadSettings resolves configuration without requiring a mail source, for
// subcommands that only need part of it.
func LoadSettings(cmd *cobra.Command) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if filepath.Ext(path) == "" {
			v.SetConfigType("yaml")
		}
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := Config{
		ConfigFile:         v.GetString("config"),
		MboxPath:           strings.TrimSpace(v.GetString("mbox")),
		IMAPHost:           strings.TrimSpace(v.GetString("imap-host")),
		IMAPPort:           v.GetInt("imap-port"),
		IMAPUser:           strings.TrimSpace(v.GetString("imap-user")),
		IMAPPass:           v.GetString("imap-pass"),
		UseTLS:             v.GetBool("use-tls"),
		StartTLS:           v.GetBool("starttls"),
		InsecureSkipVerify: v.GetBool("insecure-skip-verify"),
		Folder:             v.GetString("folder"),
		Dest:               v.GetString("dest"),
		Limit:              v.GetInt("limit"),
		BatchSize:          v.GetInt("batch"),
		MappingFile:        v.GetString("mapping-file"),
		LedgerDB:           v.GetString("ledger-db"),
		MetricsFile:        v.GetString("metrics-file"),
		LogDir:             v.GetString("log-dir"),
		LogLevel:           strings.ToLower(v.GetString("log-level")),
	}

	if cfg.IMAPPass == "" {
		cfg.IMAPPass = os.Getenv("IMAP_PASS")
	}
	if cfg.IMAPPass == "" && cfg.IMAPHost != "" && cfg.IMAPUser != "" && lookupPassword != nil {
		if pass, err := lookupPassword(cfg.IMAPHost, cfg.IMAPUser); err == nil {
			cfg.IMAPPass = pass
		}
	}

	if cfg.StartTLS {
		cfg.UseTLS = false
		portSet := cmd.Flags().Changed("imap-port") || v.InConfig("imap-port") || os.Getenv(envPrefix+"_IMAP_PORT") != ""
		if !portSet {
			cfg.IMAPPort = defaultPlainPort
		}
	}
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	if cfg.Folder == "" {
		cfg.Folder = "INBOX"
	}
	if cfg.Dest != "" {
		cfg.Dest = filepath.Clean(cfg.Dest)
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	if err := ValidateSource(cfg); err != nil {
		return err
	}
	if cfg.UsesIMAP() {
		if cfg.IMAPUser == "" {
			return fmt.Errorf("--imap-user is required")
		}
		if cfg.IMAPPass == "" {
			return fmt.Errorf("IMAP password must be provided via --imap-pass, IMAP_PASS env var or the keyring")
		}
		if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
			return fmt.Errorf("--imap-port must be between 1 and 65535")
		}
	}
	if cfg.Dest == "" {
		return fmt.Errorf("--dest is required")
	}
	if cfg.Limit < 0 {
		return fmt.Errorf("--limit must not be negative")
	}
	if cfg.BatchSize < 1 {
		return fmt.Errorf("--batch must be at least 1")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}

var errNoSource = errors.New("one of --mbox or --imap-host is required")

// ValidateSource checks that exactly one mail source is configured.
func ValidateSource(cfg Config) error {
	switch {
	case cfg.MboxPath == "" && cfg.IMAPHost == "":
		return errNoSource
	case cfg.MboxPath != "" && cfg.IMAPHost != "":
		return fmt.Errorf("--mbox and --imap-host are mutually exclusive")
	}
	return nil
}
