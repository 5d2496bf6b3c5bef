// Package wasmhost is the WASM skill runtime and its constrained
// host-function table (spec.md §4.2). It loads a skill as a byte vector,
// validates the `\0asm` magic, and instantiates it against a fixed set of
// imports: memory_get/set/delete/list (routed through a
// memory/guard.SafeMemoryContext), ai_chat/ai_generate_json (routed
// through an injected AIProvider), http_request (gated on the skill's
// Network capability), and log.
//
// No WASM runtime appears as a dependency in any complete example repo in
// the retrieved corpus (SPEC_FULL.md §B); `github.com/tetratelabs/wazero`
// is named there as the ecosystem-standard pure-Go, zero-cgo choice for
// embedding a sandboxed WASM host, which is exactly this package's job.
package wasmhost

import (
	"bytes"
	"context"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/cis-project/cis/internal/domain/memory/guard"
	"github.com/cis-project/cis/internal/domain/sandbox"
	cerr "github.com/cis-project/cis/pkg/errors"
)

var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6d} // "\0asm"

// Capabilities gates which host functions a skill instance may call,
// spec.md §4.2 "only if the skill's capability list includes Network".
type Capabilities struct {
	Network bool
}

// AIProvider is the synchronous call into the agent-provider layer that
// backs ai_chat/ai_generate_json. Wiring a concrete provider (subprocess,
// HTTP API) is explicitly out of scope (spec.md §1 Non-goals: AI-provider
// subprocess integrations); this interface is the seam a host process
// plugs one into.
type AIProvider interface {
	Chat(ctx context.Context, prompt string) (string, error)
	GenerateJSON(ctx context.Context, prompt, schema string) (string, error)
}

// HTTPDoer performs the http_request host call when Network is granted.
// Kept as an interface (rather than a direct net/http call) so a test can
// substitute a fake without touching the network — the same seam the
// teacher uses for its own outbound HTTP clients.
type HTTPDoer interface {
	Do(ctx context.Context, serializedRequest []byte) ([]byte, error)
}

// MemoryWriter performs memory_set/memory_delete on the skill's behalf.
// Writes never go through SafeMemoryContext (it is a read-only snapshot);
// they go directly to the store, which advances the local node's
// VectorClock component for the written key (spec.md §4.2 memory_set:
// "will produce a new VectorClock entry for the local node").
type MemoryWriter interface {
	Set(key string, value []byte) error
	Delete(key string) (bool, error)
}

// Host wires one skill instantiation's dependencies: the memory guard, the
// filesystem sandbox policy, an AI provider, an HTTP doer, and a logger.
// Host calls are routed through the sandbox (for FS) and the memory
// service (which checks capabilities and routes private vs public paths),
// per spec.md §4.2 — this struct is exactly that routing table.
type Host struct {
	guard   *guard.ConflictGuard
	policy  sandbox.Policy
	writer  MemoryWriter
	ai      AIProvider
	http    HTTPDoer
	logger  *zap.Logger
	ctx     guard.SafeMemoryContext
	caps    Capabilities
	fdCount *atomic.Uint32
	maxFD   uint32
}

// New builds a Host. memCtx is the SafeMemoryContext covering the
// currently-executing task's declared inputs (spec.md §4.7.c); it is the
// only way host functions can read memory, so an unresolved conflict on a
// key simply never reaches the skill. writer may be nil for a read-only
// skill instantiation, in which case memory_set/memory_delete report
// resultDenied. fdCount/maxFD back file_read/file_write's FDGuard
// accounting (spec.md §4.1 try_allocate_fd); fdCount may be nil, in which
// case file host calls skip FD accounting but still enforce policy.
func New(g *guard.ConflictGuard, policy sandbox.Policy, memCtx guard.SafeMemoryContext, writer MemoryWriter, caps Capabilities, ai AIProvider, http HTTPDoer, logger *zap.Logger, fdCount *atomic.Uint32, maxFD uint32) *Host {
	return &Host{guard: g, policy: policy, ctx: memCtx, writer: writer, caps: caps, ai: ai, http: http, logger: logger, fdCount: fdCount, maxFD: maxFD}
}

// ValidateMagic checks wasmBytes begins with the WASM magic number
// (spec.md §4.2: "validates the magic \0asm").
func ValidateMagic(wasmBytes []byte) error {
	if len(wasmBytes) < 4 || !bytes.Equal(wasmBytes[:4], wasmMagic) {
		return cerr.Wasm("not a valid wasm module: bad magic", nil)
	}
	return nil
}

// Runtime owns a wazero runtime instance and the host module compiled
// against it.
type Runtime struct {
	runtime wazero.Runtime
	host    *Host
}

// NewRuntime builds a Runtime whose host-function table is bound to host.
func NewRuntime(ctx context.Context, host *Host) (*Runtime, error) {
	r := wazero.NewRuntime(ctx)
	if _, err := buildHostModule(ctx, r, host); err != nil {
		_ = r.Close(ctx)
		return nil, err
	}
	return &Runtime{runtime: r, host: host}, nil
}

// Close releases the underlying wazero runtime and every module compiled
// against it.
func (rt *Runtime) Close(ctx context.Context) error {
	return rt.runtime.Close(ctx)
}

// LoadSkill validates and compiles wasmBytes, then instantiates it with
// the host module already bound by NewRuntime. The returned module's
// exported entry point (conventionally "run") is the caller's
// responsibility to invoke.
func (rt *Runtime) LoadSkill(ctx context.Context, wasmBytes []byte) (api.Module, error) {
	if err := ValidateMagic(wasmBytes); err != nil {
		return nil, err
	}

	compiled, err := rt.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, cerr.Wasm("compiling skill module", err)
	}

	mod, err := rt.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig())
	if err != nil {
		return nil, cerr.Wasm("instantiating skill module", err)
	}
	return mod, nil
}
