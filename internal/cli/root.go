package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"plenario/internal/config"
	"plenario/internal/flags"
	"plenario/internal/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "plenario",
	Short: "Turn plenary session PDFs into a searchable record archive",
	Long: `Plenario ingests the plenary session documents of the legislature and turns
their attendance and vote headers into a searchable record archive.

The pipeline is a fixed sequence of resumable stages. Every stage reads what the
previous stage wrote to disk, skips items that are already done and retries
failed items with exponential backoff. Re-running a stage only processes what is
still missing.

Examples:
	# Show available commands and global flags
	plenario --help

	# Run the whole pipeline
	plenario run

	# Run only the image stages
	plenario run rasterize..zones

	# List stages
	plenario stages list

	# Serve the public site and the records API
	plenario serve

	# Print build info
	plenario version

Configuration:
	Values come from (highest precedence first) command-line flags, PLENARIO_*
	environment variables, the YAML file given by --config (default: plenario.yaml
	when present) and built-in defaults. See plenario.example.yaml.`,
}

// globalFlagKeys maps persistent flag names to configuration keys.
var globalFlagKeys = map[string]string{
	flags.FlagVerbose:   "runtime.verbose",
	flags.FlagLogLevel:  "runtime.log_level",
	flags.FlagLogFormat: "runtime.log_format",
}

func init() {
	defaults := config.New()
	rootCmd.PersistentFlags().StringVar(&configPath, flags.FlagConfig, "", "Configuration file (default: "+config.DefaultConfigFile+" if present)")
	rootCmd.PersistentFlags().Bool(flags.FlagVerbose, false, "Enable debug logging and per-attempt console lines")
	rootCmd.PersistentFlags().String(flags.FlagLogLevel, defaults.Runtime.LogLevel, "Log level: debug|info|warn|error")
	rootCmd.PersistentFlags().String(flags.FlagLogFormat, defaults.Runtime.LogFormat, "Log format: text|json")
}

// loadConfig resolves the effective configuration for cmd. keys maps the
// command's own flag names to configuration keys; global flags are added.
func loadConfig(cmd *cobra.Command, keys map[string]string) (*config.Config, error) {
	bound := make(map[string]*pflag.Flag, len(keys)+len(globalFlagKeys))
	for _, m := range []map[string]string{globalFlagKeys, keys} {
		for name, key := range m {
			if f := cmd.Flag(name); f != nil {
				bound[key] = f
			}
		}
	}
	return config.Load(configPath, bound)
}

// newLogger builds the process logger. Logs go to stderr so stdout stays free
// for --emit streams.
func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	level := cfg.Runtime.LogLevel
	if cfg.Runtime.Verbose {
		level = "debug"
	}
	return logger.New(level, cfg.Runtime.LogFormat, w)
}

func SetBuildInfo(version, commit, date string) {
	if version != "" {
		buildVersion = version
	}
	if commit != "" {
		buildCommit = commit
	}
	if date != "" {
		buildDate = date
	}

	rootCmd.Version = fmt.Sprintf("%s (%s) %s", buildVersion, buildCommit, buildDate)
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

func BuildInfo() (version, commit, date string) {
	return buildVersion, buildCommit, buildDate
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
