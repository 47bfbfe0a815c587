package stages

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"plenario/internal/output"
)

// Pipeline is the canonical stage order. Each stage consumes what the stages
// before it wrote to disk.
var Pipeline = []string{
	"scrape",
	"manifest",
	"download",
	"rasterize",
	"classify",
	"zones",
	"index",
	"ocr",
	"normalize",
	"unify",
	"materialize",
	"publish",
}

type Stage interface {
	ID() string
	Title() string
	Description() string

	// Run executes the stage and returns its summary. A non-nil error means
	// the stage could not complete; item failures are reported in the
	// summary instead.
	Run(ctx context.Context, env *Env) (output.StageSummary, error)
}

var (
	registry = make(map[string]Stage)
	mu       sync.RWMutex
)

func Register(s Stage) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[s.ID()]; exists {
		panic(fmt.Sprintf("stage %s already registered", s.ID()))
	}
	registry[s.ID()] = s
}

// List returns every registered stage in pipeline order.
func List() []Stage {
	mu.RLock()
	defer mu.RUnlock()
	return listLocked()
}

func listLocked() []Stage {
	out := make([]Stage, 0, len(registry))
	for _, s := range registry {
		out = append(out, s)
	}
	sortStages(out)
	return out
}

// Lookup returns the stage registered under id.
func Lookup(id string) (Stage, bool) {
	mu.RLock()
	defer mu.RUnlock()
	s, ok := registry[id]
	return s, ok
}

// Resolve selects stages from a comma-separated selector. Each element is a
// stage ID or an inclusive range "from..to" (either end may be omitted).
// An empty selector or "all" selects every stage. The result is deduplicated
// and always in pipeline order.
func Resolve(selector string) ([]Stage, error) {
	mu.RLock()
	defer mu.RUnlock()

	selector = strings.TrimSpace(selector)
	all := listLocked()
	if selector == "" || strings.EqualFold(selector, "all") {
		return all, nil
	}

	picked := make(map[string]Stage)
	for _, part := range strings.Split(selector, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if from, to, isRange := strings.Cut(part, ".."); isRange {
			lo, hi := 0, len(all)-1
			if from = strings.TrimSpace(from); from != "" {
				i := indexOf(all, from)
				if i < 0 {
					return nil, fmt.Errorf("stage not found: %s", from)
				}
				lo = i
			}
			if to = strings.TrimSpace(to); to != "" {
				i := indexOf(all, to)
				if i < 0 {
					return nil, fmt.Errorf("stage not found: %s", to)
				}
				hi = i
			}
			if lo > hi {
				return nil, fmt.Errorf("invalid stage range %q: %s runs after %s", part, from, to)
			}
			for _, s := range all[lo : hi+1] {
				picked[s.ID()] = s
			}
			continue
		}
		s, ok := registry[part]
		if !ok {
			return nil, fmt.Errorf("stage not found: %s", part)
		}
		picked[part] = s
	}
	if len(picked) == 0 {
		return nil, fmt.Errorf("no stages selected by %q", selector)
	}

	out := make([]Stage, 0, len(picked))
	for _, s := range picked {
		out = append(out, s)
	}
	sortStages(out)
	return out, nil
}

// IDs returns the IDs of stages in order.
func IDs(stages []Stage) []string {
	out := make([]string, len(stages))
	for i, s := range stages {
		out[i] = s.ID()
	}
	return out
}

func indexOf(stages []Stage, id string) int {
	return slices.IndexFunc(stages, func(s Stage) bool { return s.ID() == id })
}

// position orders known stages by Pipeline and unknown ones after them.
func position(id string) int {
	if i := slices.Index(Pipeline, id); i >= 0 {
		return i
	}
	return len(Pipeline)
}

func sortStages(s []Stage) {
	sort.Slice(s, func(i, j int) bool {
		pi, pj := position(s[i].ID()), position(s[j].ID())
		if pi != pj {
			return pi < pj
		}
		return s[i].ID() < s[j].ID()
	})
}
