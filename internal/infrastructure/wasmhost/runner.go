package wasmhost

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/cis-project/cis/internal/domain/memory/guard"
	"github.com/cis-project/cis/internal/domain/sandbox"
	"github.com/cis-project/cis/internal/domain/task"
	cerr "github.com/cis-project/cis/pkg/errors"
)

// SkillLoader resolves a skill_id to its compiled WASM byte vector
// (spec.md §4.2 "Loads a skill as a byte vector"). CIS has no
// skill-catalog/registry service in scope, so skills are addressed
// directly by file name — the straightforward source the spec's wording
// assumes.
type SkillLoader interface {
	Load(ctx context.Context, skillID string) ([]byte, error)
}

// FileSkillLoader loads "<Dir>/<skillID>.wasm" off local disk.
type FileSkillLoader struct {
	Dir string
}

// Load implements SkillLoader. skillID is validated with
// sandbox.IsSafeFilename first since it is attacker-controlled (a
// skill_id comes from a submitted Task) and is about to be joined onto a
// filesystem path.
func (l FileSkillLoader) Load(ctx context.Context, skillID string) ([]byte, error) {
	name := skillID + ".wasm"
	if !sandbox.IsSafeFilename(name) {
		return nil, cerr.Skill(fmt.Sprintf("skill id %q is not a safe filename", skillID))
	}
	path := filepath.Join(l.Dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cerr.Skill(fmt.Sprintf("loading skill %q: %v", skillID, err))
	}
	return data, nil
}

// Runner adapts a SkillLoader plus a Host's fixed collaborators (guard,
// sandbox policy, AI provider, HTTP doer, FD accounting) into
// executor.SkillRunner, so executor.go can dispatch IsSkillTask() tasks
// without importing wazero directly (spec.md §4.2, §4.7).
type Runner struct {
	Loader  SkillLoader
	Guard   *guard.ConflictGuard
	Policy  sandbox.Policy
	Writer  MemoryWriter
	AI      AIProvider
	HTTP    HTTPDoer
	Logger  *zap.Logger
	FDCount *atomic.Uint32
	MaxFD   uint32
}

// cisSkillRunExport is the guest entry point every skill module must
// export: it takes the (ptr,len) of a JSON-encoded skill_params object
// and returns the packed (ptr,len) of a JSON-encoded skill_result object.
const cisSkillRunExport = "cis_skill_run"

// RunSkill loads t.SkillID, instantiates it against a Host scoped to
// memCtx and t's declared capabilities, invokes its cis_skill_run entry
// point with t.SkillParams, and decodes the JSON result back into a
// skill_result map (spec.md §3 "skill_result").
func (r *Runner) RunSkill(ctx context.Context, t *task.Task, memCtx guard.SafeMemoryContext) (map[string]any, error) {
	wasmBytes, err := r.Loader.Load(ctx, t.SkillID)
	if err != nil {
		return nil, err
	}

	host := New(r.Guard, r.Policy, memCtx, r.Writer, Capabilities{Network: t.AllowNetwork}, r.AI, r.HTTP, r.Logger, r.FDCount, r.MaxFD)

	rt, err := NewRuntime(ctx, host)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rt.Close(ctx) }()

	mod, err := rt.LoadSkill(ctx, wasmBytes)
	if err != nil {
		return nil, err
	}
	defer func() { _ = mod.Close(ctx) }()

	entry := mod.ExportedFunction(cisSkillRunExport)
	if entry == nil {
		return nil, cerr.Skill(fmt.Sprintf("skill %q exports no %s entry point", t.SkillID, cisSkillRunExport))
	}

	paramsJSON, err := json.Marshal(t.SkillParams)
	if err != nil {
		return nil, cerr.Skill(fmt.Sprintf("encoding skill_params for %q: %v", t.SkillID, err))
	}
	inPtr, inLen, err := writeInput(mod, paramsJSON)
	if err != nil {
		return nil, err
	}

	results, err := entry.Call(ctx, uint64(inPtr), uint64(inLen))
	if err != nil {
		return nil, cerr.Skill(fmt.Sprintf("invoking skill %q: %v", t.SkillID, err))
	}
	if len(results) == 0 {
		return nil, cerr.Skill(fmt.Sprintf("skill %q returned no result word", t.SkillID))
	}

	outPtr, outLen := uint32(results[0]), uint32(results[0]>>32)
	raw, err := readBytes(mod, outPtr, outLen)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return map[string]any{}, nil
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, cerr.Skill(fmt.Sprintf("decoding skill_result from %q: %v", t.SkillID, err))
	}
	return out, nil
}

// writeInput allocates len(data) bytes in the guest's linear memory via
// its exported cis_alloc and copies data into it, mirroring writeResult
// but returning an unpacked (ptr, len) pair for a call argument rather
// than a packed return word.
func writeInput(mod api.Module, data []byte) (uint32, uint32, error) {
	if len(data) == 0 {
		return 0, 0, nil
	}
	alloc := mod.ExportedFunction("cis_alloc")
	if alloc == nil {
		return 0, 0, cerr.Wasm("skill module exports no cis_alloc allocator", nil)
	}
	results, err := alloc.Call(context.Background(), uint64(len(data)))
	if err != nil || len(results) == 0 {
		return 0, 0, cerr.Wasm("calling guest cis_alloc", err)
	}
	ptr := uint32(results[0])
	mod.Memory().Write(ptr, data)
	return ptr, uint32(len(data)), nil
}
