package flags

// Package flags defines canonical CLI flag names shared across the CLI and its
// tests. Each flag that overrides a configuration value is mapped to its
// configuration key in internal/cli (see runFlagKeys).
// IMPORTANT: These are flag *names* without leading dashes.
// Example usage:
//
//	cmd.Flags().String(flags.FlagOut, "", "...")
//	arg := "--" + flags.FlagOut
const (
	// Global
	FlagConfig    = "config"
	FlagVerbose   = "verbose"
	FlagLogLevel  = "log-level"
	FlagLogFormat = "log-format"

	// Output
	FlagConsoleFormat = "console-format"
	FlagReport        = "report"
	FlagOut           = "out"
	FlagOutFormat     = "out-format"
	FlagEmit          = "emit"
	FlagNoConsole     = "no-console"

	// Runtime
	FlagTimeout = "timeout"

	// Stage overrides
	FlagDownloadWorkers    = "download-workers"
	FlagDownloadMaxRetries = "download-max-retries"
	FlagInsecure           = "insecure"
	FlagOCREngine          = "ocr-engine"
	FlagOCRWorkers         = "ocr-workers"
	FlagOCRMaxRetries      = "ocr-max-retries"
	FlagPublishRepo        = "publish-repo"

	// Serve
	FlagAddr = "addr"

	// Stages
	FlagQuiet = "quiet"
)
