// Package dagfile reads and writes the two on-disk/on-wire representations
// of a Dag named in spec.md §6: a human-authored TOML DAG file, and the
// JSON form used for DagRun persistence and DHT exchange (spec.md §8
// property 9: "a DagRun round-trips through JSON without loss"). Grounded
// on the teacher's use of `github.com/pelletier/go-toml/v2` (pulled in
// indirectly through viper's TOML support, promoted to direct here) and on
// _examples/original_source/cis-common/cis-scheduler/src/dagfile.rs for
// the field names and table shape.
package dagfile

import (
	"fmt"
	"os"
	"sort"

	"github.com/pelletier/go-toml/v2"

	"github.com/cis-project/cis/internal/domain/task"
	cerr "github.com/cis-project/cis/pkg/errors"
)

// file is the TOML document shape: a dag-level title plus a `[[task]]`
// array of tables, matching spec.md §6's format.
type file struct {
	Name  string      `toml:"name"`
	Tasks []tomlTask  `toml:"task"`
}

type tomlTask struct {
	ID                 string            `toml:"id"`
	ParentID           string            `toml:"parent_id,omitempty"`
	Title              string            `toml:"title"`
	Description        string            `toml:"description,omitempty"`
	Group              string            `toml:"group,omitempty"`
	CompletionCriteria string            `toml:"completion_criteria,omitempty"`
	Priority           string            `toml:"priority,omitempty"`
	Dependencies       []string          `toml:"dependencies,omitempty"`
	WorkspaceDir       string            `toml:"workspace_dir,omitempty"`
	Sandboxed          *bool             `toml:"sandboxed,omitempty"`
	AllowNetwork       bool              `toml:"allow_network,omitempty"`
	AgentRuntime       string            `toml:"agent_runtime,omitempty"`
	ReuseAgent         string            `toml:"reuse_agent,omitempty"`
	KeepAgent          bool              `toml:"keep_agent,omitempty"`
	Metadata           map[string]string `toml:"metadata,omitempty"`
	Level              tomlLevel         `toml:"level"`
	OnAmbiguity        *tomlAmbiguity    `toml:"on_ambiguity,omitempty"`
	Inputs             []string          `toml:"inputs,omitempty"`
	Outputs            []string          `toml:"outputs,omitempty"`
	Rollback           []string          `toml:"rollback,omitempty"`
	Idempotent         bool              `toml:"idempotent,omitempty"`
	FailureType        string            `toml:"failure_type,omitempty"`
	SkillID            string            `toml:"skill_id,omitempty"`
	SkillParams        map[string]any    `toml:"skill_params,omitempty"`
}

type tomlLevel struct {
	Kind          string   `toml:"kind"`
	Retry         uint8    `toml:"retry,omitempty"`
	DefaultAction string   `toml:"default_action,omitempty"`
	TimeoutSecs   uint16   `toml:"timeout_secs,omitempty"`
	Stakeholders  []string `toml:"stakeholders,omitempty"`
}

type tomlAmbiguity struct {
	Kind        string `toml:"kind"`
	Default     string `toml:"default,omitempty"`
	TimeoutSecs uint16 `toml:"timeout_secs,omitempty"`
}

var priorityNames = map[string]task.Priority{
	"low": task.PriorityLow, "medium": task.PriorityMedium,
	"high": task.PriorityHigh, "urgent": task.PriorityUrgent,
}

// LoadFile reads a TOML DAG file from path and builds a validated Dag.
func LoadFile(path string) (*task.Dag, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, cerr.IO(fmt.Sprintf("reading dag file %q", path), err)
	}
	return Parse(raw)
}

// Parse decodes TOML bytes into a validated Dag.
func Parse(raw []byte) (*task.Dag, error) {
	var f file
	if err := toml.Unmarshal(raw, &f); err != nil {
		return nil, cerr.Serialization("parsing dag toml", err)
	}
	if f.Name == "" {
		return nil, cerr.Validation("dag file missing top-level name")
	}

	d := task.NewDag(f.Name)
	for _, tt := range f.Tasks {
		t, err := tt.toTask()
		if err != nil {
			return nil, err
		}
		if err := d.AddTask(t); err != nil {
			return nil, err
		}
	}
	if _, err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func (tt tomlTask) toTask() (*task.Task, error) {
	if tt.ID == "" {
		return nil, cerr.Validation("task missing id")
	}
	t := task.New(tt.ID, tt.Title, tt.Group)
	t.ParentID = tt.ParentID
	t.Description = tt.Description
	t.CompletionCriteria = tt.CompletionCriteria
	t.Dependencies = tt.Dependencies
	t.WorkspaceDir = tt.WorkspaceDir
	t.AllowNetwork = tt.AllowNetwork
	t.AgentRuntime = tt.AgentRuntime
	t.ReuseAgent = tt.ReuseAgent
	t.KeepAgent = tt.KeepAgent
	t.Inputs = tt.Inputs
	t.Outputs = tt.Outputs
	t.Rollback = tt.Rollback
	t.Idempotent = tt.Idempotent
	t.SkillID = tt.SkillID
	t.SkillParams = tt.SkillParams
	if tt.Sandboxed != nil {
		t.Sandboxed = *tt.Sandboxed
	}
	if tt.Metadata != nil {
		t.Metadata = tt.Metadata
	}

	if tt.Priority != "" {
		p, ok := priorityNames[tt.Priority]
		if !ok {
			return nil, cerr.Validation(fmt.Sprintf("task %q: unknown priority %q", tt.ID, tt.Priority))
		}
		t.Priority = p
	}

	if tt.FailureType != "" {
		t.FailureType = task.FailureType(tt.FailureType)
	} else {
		t.FailureType = task.FailureBlocking
	}

	level, err := tt.Level.toLevel(tt.ID)
	if err != nil {
		return nil, err
	}
	t.Level = level

	if tt.OnAmbiguity != nil {
		t.OnAmbiguity = task.AmbiguityPolicy{
			Kind:        tt.OnAmbiguity.Kind,
			Default:     task.Action(tt.OnAmbiguity.Default),
			TimeoutSecs: tt.OnAmbiguity.TimeoutSecs,
		}
	}
	return t, nil
}

func (tl tomlLevel) toLevel(taskID string) (task.Level, error) {
	switch tl.Kind {
	case "", "mechanical":
		retry := tl.Retry
		if tl.Kind == "" {
			retry = 3
		}
		return task.Mechanical(retry), nil
	case "recommended":
		return task.Recommended(task.Action(tl.DefaultAction), tl.TimeoutSecs), nil
	case "confirmed":
		return task.Confirmed(), nil
	case "arbitrated":
		return task.Arbitrated(tl.Stakeholders), nil
	default:
		return task.Level{}, cerr.Validation(fmt.Sprintf("task %q: unknown level kind %q", taskID, tl.Kind))
	}
}

// WriteFile serializes d back to a TOML DAG file at path, the inverse of
// LoadFile.
func WriteFile(path string, d *task.Dag) error {
	raw, err := Marshal(d)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return cerr.IO(fmt.Sprintf("writing dag file %q", path), err)
	}
	return nil
}

// Marshal serializes d to TOML bytes.
func Marshal(d *task.Dag) ([]byte, error) {
	f := file{Name: d.Name}
	ids := make([]string, 0, len(d.Tasks))
	for id := range d.Tasks {
		ids = append(ids, id)
	}
	// Deterministic output order, matching the sorted-queue convention used
	// throughout internal/domain/task for reproducibility.
	sort.Strings(ids)
	for _, id := range ids {
		f.Tasks = append(f.Tasks, fromTask(d.Tasks[id]))
	}

	raw, err := toml.Marshal(f)
	if err != nil {
		return nil, cerr.Serialization("marshalling dag toml", err)
	}
	return raw, nil
}

func fromTask(t *task.Task) tomlTask {
	sandboxed := t.Sandboxed
	tt := tomlTask{
		ID:                 t.ID,
		ParentID:           t.ParentID,
		Title:              t.Title,
		Description:        t.Description,
		Group:              t.Group,
		CompletionCriteria: t.CompletionCriteria,
		Priority:           priorityName(t.Priority),
		Dependencies:       t.Dependencies,
		WorkspaceDir:       t.WorkspaceDir,
		Sandboxed:          &sandboxed,
		AllowNetwork:       t.AllowNetwork,
		AgentRuntime:       t.AgentRuntime,
		ReuseAgent:         t.ReuseAgent,
		KeepAgent:          t.KeepAgent,
		Metadata:           t.Metadata,
		Level:              fromLevel(t.Level),
		Inputs:             t.Inputs,
		Outputs:            t.Outputs,
		Rollback:           t.Rollback,
		Idempotent:         t.Idempotent,
		FailureType:        string(t.FailureType),
		SkillID:            t.SkillID,
		SkillParams:        t.SkillParams,
	}
	if t.OnAmbiguity.Kind != "" {
		tt.OnAmbiguity = &tomlAmbiguity{
			Kind:        t.OnAmbiguity.Kind,
			Default:     string(t.OnAmbiguity.Default),
			TimeoutSecs: t.OnAmbiguity.TimeoutSecs,
		}
	}
	return tt
}

func fromLevel(l task.Level) tomlLevel {
	return tomlLevel{
		Kind:          l.Kind,
		Retry:         l.Retry,
		DefaultAction: string(l.DefaultAction),
		TimeoutSecs:   l.TimeoutSecs,
		Stakeholders:  l.Stakeholders,
	}
}

func priorityName(p task.Priority) string {
	for name, v := range priorityNames {
		if v == p {
			return name
		}
	}
	return "medium"
}
