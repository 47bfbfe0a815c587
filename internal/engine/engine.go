// Package engine runs a selection of pipeline stages in order and turns the
// outcome into an exit code.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"plenario/internal/config"
	"plenario/internal/output"
	"plenario/internal/stages"
)

// Exit codes.
const (
	// ExitCompleted: every selected stage ran. Item failures are reported,
	// not fatal.
	ExitCompleted = 0
	// ExitAborted: a stage stopped the run (runner defect, cancellation,
	// I/O error writing its results).
	ExitAborted = 1
	// ExitSetup: the run could not start or a stage could not load its
	// inputs (configuration, manifests, missing tools).
	ExitSetup = 3
)

func exitCodeForRun(setup, aborted bool) int {
	if setup {
		return ExitSetup
	}
	if aborted {
		return ExitAborted
	}
	return ExitCompleted
}

func setupOutputManager(cfg *config.Config) (*output.Manager, error) {
	outMgr := output.NewManager()

	// Console Sink
	if !cfg.Output.NoConsole {
		if err := outMgr.Add(output.NewConsoleSink(nil, cfg.Output.ConsoleFormat, cfg.Runtime.Verbose)); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	// Emit Sinks (additional structured streams)
	for _, emit := range cfg.Output.Emit {
		es, err := output.NewEmitSink(os.Stdout, emit)
		if err != nil {
			outMgr.Close()
			return nil, err
		}
		if err := outMgr.Add(es); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	// File Sink
	if cfg.Output.Out != "" {
		fs, err := output.NewFileSink(cfg.Output.Out, cfg.Output.OutFormat)
		if err != nil {
			outMgr.Close()
			return nil, err
		}
		if err := outMgr.Add(fs); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	// Report Sink
	if cfg.Output.Report != "" {
		rs, err := output.NewReportSink(cfg.Output.Report)
		if err != nil {
			outMgr.Close()
			return nil, err
		}
		if err := outMgr.Add(rs); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	return outMgr, nil
}

type Engine struct {
	// Env supplies the logger and optional collaborators. Config and Out are
	// set per run.
	Env stages.Env

	// resolve is a test seam for stage selection.
	// If nil, Engine uses the stage registry.
	resolve func(selector string) ([]stages.Stage, error)
}

func NewEngine(env stages.Env) *Engine {
	return &Engine{Env: env}
}

func (e *Engine) selectStages(selector string) ([]stages.Stage, error) {
	if e.resolve != nil {
		return e.resolve(selector)
	}
	return stages.Resolve(selector)
}

// Run executes the stages picked by selector and returns the process exit
// code. Stages run one after the other; the first stage error stops the run.
func (e *Engine) Run(ctx context.Context, cfg *config.Config, selector string) int {
	env := e.Env
	log := env.Log()

	selected, err := e.selectStages(selector)
	if err != nil {
		log.Error("resolve stages", "error", err)
		return ExitSetup
	}

	outMgr, err := setupOutputManager(cfg)
	if err != nil {
		log.Error("create output sinks", "error", err)
		return ExitSetup
	}
	defer func() {
		if err := outMgr.Close(); err != nil {
			log.Warn("close output sinks", "error", err)
		}
	}()

	if cfg.Runtime.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, cfg.Runtime.Timeout,
			fmt.Errorf("run timed out after %s", cfg.Runtime.Timeout))
		defer cancel()
	}

	env.Config = cfg
	env.Out = outMgr
	env.OutputFailed(outMgr.RunStarted(stages.IDs(selected)))

	var setup, aborted bool
	for _, st := range selected {
		if ctx.Err() != nil {
			log.Warn("run cancelled", "before", st.ID(), "cause", context.Cause(ctx))
			aborted = true
			break
		}

		log.Debug("stage starting", "stage", st.ID())
		start := time.Now()
		sum, err := st.Run(ctx, &env)
		if sum.Stage == "" {
			sum.Stage, sum.Title = st.ID(), st.Title()
		}
		if sum.ElapsedMS == 0 {
			sum.ElapsedMS = time.Since(start).Milliseconds()
		}
		if err != nil {
			sum.Error = err.Error()
		}
		env.OutputFailed(outMgr.StageFinished(sum))

		if err != nil {
			if errors.Is(err, stages.ErrSetup) {
				setup = true
			} else {
				aborted = true
			}
			log.Error("stage stopped the run", "stage", st.ID(), "error", err)
			break
		}
	}

	code := exitCodeForRun(setup, aborted)
	env.OutputFailed(outMgr.RunFinished(code))
	return code
}
