// Package steps implements the pipeline stages and registers them with the
// stages registry. Import it for side effects.
package steps

import (
	"fmt"
	"path/filepath"

	"plenario/internal/command"
	"plenario/internal/runner"
	"plenario/internal/stages"
)

func init() {
	for _, st := range []stages.Stage{
		scrapeStage{},
		manifestStage{},
		downloadStage{},
		rasterizeStage{},
		classifyStage{},
		zonesStage{},
		indexStage{},
		ocrStage{},
		normalizeStage{},
		unifyStage{},
		materializeStage{},
		publishStage{},
	} {
		stages.Register(st)
	}
}

// file is a work item identified by its base name.
type file string

func (f file) Key() string  { return filepath.Base(string(f)) }
func (f file) Path() string { return string(f) }

func files(paths []string) []file {
	out := make([]file, len(paths))
	for i, p := range paths {
		out[i] = file(p)
	}
	return out
}

// imageExts are the page and crop image extensions the stages pick up.
var imageExts = []string{".jpg", ".jpeg", ".png"}

func setupErr(st stages.Stage, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", stages.ErrSetup, st.ID(), fmt.Sprintf(format, args...))
}

// anyPending reports whether at least one item still needs work.
func anyPending[T runner.Item](items []T, done func(T) bool) bool {
	for _, it := range items {
		if !done(it) {
			return true
		}
	}
	return false
}

// requireCommand fails setup when argv cannot be executed.
func requireCommand(st stages.Stage, key string, argv []string) error {
	if err := command.Check(argv); err != nil {
		return setupErr(st, "%s: %v", key, err)
	}
	return nil
}
