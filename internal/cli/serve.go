package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"plenario/internal/config"
	"plenario/internal/engine"
	"plenario/internal/flags"
	"plenario/internal/fsutil"
	"plenario/internal/site"
	"plenario/internal/store"

	"github.com/spf13/cobra"
)

var serveFlagKeys = map[string]string{
	flags.FlagAddr: "serve.addr",
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the public site and the records API",
		Long: `Serve the static site from paths.public_dir together with a JSON API over the
published records.

Records are read from the SQLite database (store.sqlite_path) when it exists,
otherwise from the unified records file (paths.records_json).

Endpoints:
	GET /health
	GET /api/records?q=&from=YYYY-MM-DD&to=YYYY-MM-DD&offset=&limit=
	GET /api/records/{id}

Exit codes:
	0 = server shut down cleanly (SIGINT/SIGTERM)
	1 = server error
	3 = setup error (invalid configuration, database cannot be opened)

Examples:
  plenario serve
  plenario serve --addr 127.0.0.1:9000
`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(serve(cmd, nil))
		},
	}
	cmd.Flags().String(flags.FlagAddr, config.New().Serve.Addr, "Listen address")
	return cmd
}

// serve runs the site server until the process is signalled. ready, when
// non-nil, receives the bound address.
func serve(cmd *cobra.Command, ready func(net.Addr)) int {
	cfg, err := loadConfig(cmd, serveFlagKeys)
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

	src, closeSource, err := openSource(ctx, cfg, log)
	if err != nil {
		log.Error("open records", "error", err)
		return engine.ExitSetup
	}
	defer closeSource()

	h := site.NewRouter(src, cfg.Paths.PublicDir, log)
	if err := site.ListenAndServe(ctx, cfg.Serve.Addr, h, log, ready); err != nil {
		log.Error("serve", "error", err)
		return engine.ExitAborted
	}
	return engine.ExitCompleted
}

func openSource(ctx context.Context, cfg *config.Config, log *slog.Logger) (site.Source, func(), error) {
	if fsutil.Exists(cfg.Store.SQLitePath) {
		db, err := store.OpenSQLite(ctx, cfg.Store.SQLitePath, log)
		if err != nil {
			return nil, nil, err
		}
		log.Info("serving records from database", "path", cfg.Store.SQLitePath)
		return db, func() { _ = db.Close() }, nil
	}
	log.Info("serving records from file", "path", cfg.Paths.RecordsJSON)
	return &site.JSONFile{Path: cfg.Paths.RecordsJSON}, func() {}, nil
}

func init() {
	rootCmd.AddCommand(newServeCmd())
}
