package output

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"plenario/internal/runner"
)

var (
	httpStatusPattern = regexp.MustCompile(`\bHTTP ([1-5])\d\d\b`)
	// Leading "<path or key>: " prefixes carry item identity, not the cause.
	pathPrefixPattern = regexp.MustCompile(`^[^\s:]*[/\\.][^\s:]*: `)
)

// normalizeErrorReason collapses whitespace, strips item-specific prefixes
// and maps known patterns so that failures of different items group together.
func normalizeErrorReason(errText string) string {
	s := strings.Join(strings.Fields(errText), " ")

	for {
		stripped := pathPrefixPattern.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}

	switch {
	case s == "":
		return "unknown error"
	case strings.Contains(s, "context deadline exceeded") || strings.Contains(s, "Client.Timeout exceeded"):
		return "timeout"
	case strings.HasPrefix(s, runner.ReasonCancelled) || strings.Contains(s, "(run cancelled during backoff)"):
		return runner.ReasonCancelled
	case strings.Contains(s, "connection refused") || strings.Contains(s, "connection reset"):
		return "connection error"
	}
	if m := httpStatusPattern.FindStringSubmatch(s); m != nil {
		return fmt.Sprintf("HTTP %sxx", m[1])
	}

	// Fallback truncation
	if len(s) > 120 {
		return s[:117] + "..."
	}
	return s
}

type stageStats struct {
	Summary StageSummary
	// Retried counts items that succeeded only after more than one attempt.
	Retried int
}

type reasonStats struct {
	Stage  string
	Reason string
	Keys   []string
}

// computeReasonStats groups the failed results of every stage by normalized
// reason, most frequent first.
func computeReasonStats(stages []*stageStats) []*reasonStats {
	type groupKey struct{ stage, reason string }
	groups := make(map[groupKey]*reasonStats)
	var out []*reasonStats

	for _, st := range stages {
		for _, f := range st.Summary.Failures {
			k := groupKey{st.Summary.Stage, normalizeErrorReason(f.Reason)}
			g, ok := groups[k]
			if !ok {
				g = &reasonStats{Stage: k.stage, Reason: k.reason}
				groups[k] = g
				out = append(out, g)
			}
			g.Keys = append(g.Keys, f.Key)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if len(out[i].Keys) != len(out[j].Keys) {
			return len(out[i].Keys) > len(out[j].Keys)
		}
		if out[i].Stage != out[j].Stage {
			return out[i].Stage < out[j].Stage
		}
		return out[i].Reason < out[j].Reason
	})
	return out
}

func formatKeyList(keys []string, max int) string {
	if len(keys) == 0 {
		return ""
	}
	if len(keys) <= max {
		return fmt.Sprintf("%d items (%s)", len(keys), strings.Join(keys, ", "))
	}
	return fmt.Sprintf("%d items (%s, +%d more)", len(keys), strings.Join(keys[:max], ", "), len(keys)-max)
}

// escapeCell keeps a value from breaking a Markdown table row.
func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
