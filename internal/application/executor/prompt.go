package executor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cis-project/cis/internal/domain/dagrun"
	"github.com/cis-project/cis/internal/domain/memory/guard"
	"github.com/cis-project/cis/internal/domain/task"
)

// BuildPrompt assembles the text handed to the agent process: the task's
// own description, the recorded Result of each of its dependencies, and — when
// context injection is enabled — every memory key it declared as an
// input, read from a SafeMemoryContext so a conflicted key can never leak
// in (spec.md §4.7.c, §4.3).
func BuildPrompt(t *task.Task, run *dagrun.DagRun, memCtx guard.SafeMemoryContext, contextInjection bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Task: %s\n", t.Title)
	if t.Description != "" {
		fmt.Fprintf(&b, "%s\n", t.Description)
	}
	if t.CompletionCriteria != "" {
		fmt.Fprintf(&b, "\nDone when: %s\n", t.CompletionCriteria)
	}

	if len(t.Dependencies) > 0 {
		deps := append([]string(nil), t.Dependencies...)
		sort.Strings(deps)
		var wrote bool
		for _, dep := range deps {
			upstream, ok := run.Dag.Tasks[dep]
			if !ok || upstream.Result == "" {
				continue
			}
			if !wrote {
				b.WriteString("\n## Upstream results\n")
				wrote = true
			}
			fmt.Fprintf(&b, "- %s: %s\n", dep, upstream.Result)
		}
	}

	if contextInjection {
		keys := memCtx.Keys()
		if len(keys) > 0 {
			sort.Strings(keys)
			b.WriteString("\n## Memory context\n")
			for _, key := range keys {
				if entry, ok := memCtx.Get(key); ok {
					fmt.Fprintf(&b, "- %s: %s\n", key, string(entry.Value))
				}
			}
		}
	}

	return b.String()
}
