package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"plenario/internal/config"
	"plenario/internal/engine"
	"plenario/internal/flags"
	"plenario/internal/stages"

	"github.com/spf13/cobra"
)

const runHelpTemplate = `{{with (or .Long .Short)}}{{. | trimTrailingWhitespaces}}

{{end}}Usage:
  {{.UseLine}}

{{if .HasAvailableLocalFlags}}Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}

{{end}}{{if .HasAvailableInheritedFlags}}Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}

{{end}}Environment:
	Every configuration key can be set as PLENARIO_<SECTION>_<KEY>, for example
	PLENARIO_OCR_WORKERS=8 or PLENARIO_DOWNLOAD_INSECURE_SKIP_VERIFY=true.

	Credentials:
	- GEMINI_API_KEY: API key for the hosted OCR model when ocr.api_key is empty.
	- GITHUB_TOKEN or GH_TOKEN: token for the publish stage when publish.token is
	  empty. If neither is set, the GitHub CLI login is used (gh auth token).

  Examples:
    # macOS/Linux
    export GEMINI_API_KEY="<your_key>"
    plenario run ocr

    # Windows PowerShell
    $env:GEMINI_API_KEY = "<your_key>"
    plenario run ocr

{{if .HasAvailableSubCommands}}Available Commands:
{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

{{end}}{{if .HasHelpSubCommands}}Additional help topics:
{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

{{end}}{{if .HasAvailableSubCommands}}Use "{{.CommandPath}} [command] --help" for more information about a command.
{{end}}`

const runLong = `Run pipeline stages in order.

The selector is a comma-separated list of stage IDs or inclusive ranges
"from..to" (either end may be omitted). Without a selector every stage runs.
Stages always run in pipeline order:

	scrape, manifest, download, rasterize, classify, zones,
	index, ocr, normalize, unify, materialize, publish

Every stage is resumable: items whose output already exists are skipped, and
failed items are retried with exponential backoff up to the stage's
max_retries. Items that still fail are listed in the stage summary; they do not
stop the run.

Output:
	Console output is controlled by --console-format (default: text).
	Structured outputs can be written via:
	- --out / --out-format: write the stage summaries as a JSON array, or the full
	  event stream as NDJSON, to a file
	- --emit: write an additional structured stream to stdout (json or ndjson)
	- --report: write a Markdown report (or HTML when the path ends in .html)
	- --no-console: suppress the console sink (use with --emit/--out for machine output)

	NDJSON mode emits one JSON object per line. Objects are lifecycle Events with a
	"type" field (run.started, stage.started, item.attempt, item.result,
	stage.finished, run.finished).

Exit codes:
	0 = every selected stage ran (failed items are reported, not fatal)
	1 = a stage aborted the run (cancellation, timeout, I/O error)
	3 = setup error (invalid configuration, unknown stage, missing inputs or tools)

Examples:
  # Whole pipeline
  plenario run

  # Scrape and build the download manifest only
  plenario run scrape,manifest

  # Everything from OCR onwards, with more OCR workers
  plenario run ocr.. --ocr-workers 32

  # AI Agent: stream machine-readable events to stdout
  plenario run --no-console --emit ndjson
`

// runFlagKeys maps run flag names to configuration keys. Flags only override
// the configuration when they are set explicitly.
var runFlagKeys = map[string]string{
	flags.FlagConsoleFormat: "output.console_format",
	flags.FlagReport:        "output.report",
	flags.FlagOut:           "output.out",
	flags.FlagOutFormat:     "output.out_format",
	flags.FlagEmit:          "output.emit",
	flags.FlagNoConsole:     "output.no_console",

	flags.FlagTimeout: "runtime.timeout",

	flags.FlagDownloadWorkers:    "download.workers",
	flags.FlagDownloadMaxRetries: "download.max_retries",
	flags.FlagInsecure:           "download.insecure_skip_verify",
	flags.FlagOCREngine:          "ocr.engine",
	flags.FlagOCRWorkers:         "ocr.workers",
	flags.FlagOCRMaxRetries:      "ocr.max_retries",
	flags.FlagPublishRepo:        "publish.repo",
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [selector]",
		Short: "Run pipeline stages",
		Long:  runLong,
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runPipeline(cmd, args))
		},
	}
	cmd.SetHelpTemplate(runHelpTemplate)

	defaults := config.New()
	f := cmd.Flags()

	// Output
	f.String(flags.FlagConsoleFormat, defaults.Output.ConsoleFormat, "Console output format: text|json|ndjson")
	f.String(flags.FlagReport, "", "Write a Markdown report to this path (.html renders HTML)")
	f.String(flags.FlagOut, "", "Write structured output to this path")
	f.String(flags.FlagOutFormat, "", "Structured output format for --out: json|ndjson (default: inferred from file extension)")
	f.StringSlice(flags.FlagEmit, nil, "Emit additional structured stream to stdout: json|ndjson (repeatable; comma-separated accepted)")
	f.Bool(flags.FlagNoConsole, false, "Suppress console output (use with --emit/--out/--report)")

	// Runtime
	f.Duration(flags.FlagTimeout, defaults.Runtime.Timeout, "Global timeout (0 = none)")

	// Stage overrides
	f.Int(flags.FlagDownloadWorkers, defaults.Download.Workers, "Concurrent downloads")
	f.Int(flags.FlagDownloadMaxRetries, defaults.Download.MaxRetries, "Attempts per download")
	f.Bool(flags.FlagInsecure, false, "Skip TLS certificate verification when downloading")
	f.String(flags.FlagOCREngine, defaults.OCR.Engine, "OCR engine: gemini|tesseract")
	f.Int(flags.FlagOCRWorkers, defaults.OCR.Workers, "Concurrent OCR requests")
	f.Int(flags.FlagOCRMaxRetries, defaults.OCR.MaxRetries, "Attempts per OCR request")
	f.String(flags.FlagPublishRepo, "", "Site repository for the publish stage as OWNER/REPO")

	return cmd
}

// runPipeline loads the configuration and runs the selected stages. It
// returns the process exit code.
func runPipeline(cmd *cobra.Command, args []string) int {
	var selector string
	if len(args) > 0 {
		selector = strings.TrimSpace(args[0])
	}

	cfg, err := loadConfig(cmd, runFlagKeys)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		return engine.ExitSetup
	}
	log, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		return engine.ExitSetup
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return engine.NewEngine(stages.Env{Logger: log}).Run(ctx, cfg, selector)
}

func init() {
	rootCmd.AddCommand(newRunCmd())
}
