package steps

import (
	"context"
	"fmt"
	"os"

	"plenario/internal/fsutil"
	"plenario/internal/github"
	"plenario/internal/output"
	"plenario/internal/stages"
)

type publishStage struct{}

func (publishStage) ID() string    { return "publish" }
func (publishStage) Title() string { return "Publish to site repository" }
func (publishStage) Description() string {
	return "Uploads the unified records JSON and the SQLite database to the site repository, skipping unchanged files."
}

func (s publishStage) Run(ctx context.Context, env *stages.Env) (output.StageSummary, error) {
	cfg := env.Config
	log := env.Log().With("stage", s.ID())
	items := files([]string{cfg.Paths.RecordsJSON, cfg.Store.SQLitePath})

	pub := env.Publisher
	if pub == nil {
		if cfg.Publish.Repo == "" {
			return stages.Summary(s, len(items), 0, 0, 0), setupErr(s, "publish.repo is not configured")
		}
		token, source, err := github.ResolveAuthToken(ctx, cfg.Publish.Token)
		if err != nil {
			return stages.Summary(s, len(items), 0, 0, 0), setupErr(s, "resolve token: %v", err)
		}
		if token == "" {
			return stages.Summary(s, len(items), 0, 0, 0), setupErr(s, "no GitHub token (set publish.token, GITHUB_TOKEN or GH_TOKEN, or run gh auth login)")
		}
		log.Debug("github token resolved", "source", source)

		client, err := github.NewClient(ctx, token, github.WithLogger(log))
		if err != nil {
			return stages.Summary(s, len(items), 0, 0, 0), setupErr(s, "%v", err)
		}
		p, err := github.NewPublisher(client, cfg.Publish.Repo, cfg.Publish.Branch, cfg.Publish.Dir, cfg.Publish.Message)
		if err != nil {
			return stages.Summary(s, len(items), 0, 0, 0), setupErr(s, "%v", err)
		}
		pub = p
	}

	return stages.RunBatch(ctx, env, s, stages.Batch[file]{
		Retry: cfg.Publish.Retry,
		Items: items,
		Precondition: func(f file) bool {
			return fsutil.Exists(f.Path())
		},
		Process: func(ctx context.Context, f file) error {
			data, err := os.ReadFile(f.Path())
			if err != nil {
				return fmt.Errorf("read %s: %w", f.Path(), err)
			}
			changed, err := pub.Put(ctx, f.Key(), data)
			if err != nil {
				return err
			}
			log.Info("published", "key", f.Key(), "changed", changed, "bytes", len(data))
			return nil
		},
	})
}
