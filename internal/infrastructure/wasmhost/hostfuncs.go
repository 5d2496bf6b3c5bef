package wasmhost

import (
	"context"
	"fmt"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/cis-project/cis/internal/domain/memory"
	"github.com/cis-project/cis/internal/domain/sandbox"
	cerr "github.com/cis-project/cis/pkg/errors"
)

// LogLevel is the small enum transported as i32 across the log() host call
// (spec.md §4.2: "LogLevel is a small enum transported as i32").
type LogLevel int32

const (
	LogDebug LogLevel = iota
	LogInfo
	LogWarn
	LogError
)

// resultCode mirrors the i32 status the guest sees from memory_set/delete.
type resultCode int32

const (
	resultOK resultCode = iota
	resultDenied
	resultNotFound
	resultError
)

// packPtrLen encodes (ptr, len) into one 64-bit word: ptr in the low 32
// bits, len in the high 32 bits (spec.md §4.2 "Return convention").
func packPtrLen(ptr, length uint32) uint64 {
	return uint64(ptr) | (uint64(length) << 32)
}

// buildHostModule registers every host function named in spec.md §4.2
// under the "env" import module, the convention guest toolchains (TinyGo,
// Rust wasm32-unknown-unknown) default to for ambient imports.
func buildHostModule(ctx context.Context, r wazero.Runtime, host *Host) (api.Module, error) {
	builder := r.NewHostModuleBuilder("env")

	builder.NewFunctionBuilder().
		WithFunc(host.memoryGet).
		Export("memory_get")
	builder.NewFunctionBuilder().
		WithFunc(host.memorySet).
		Export("memory_set")
	builder.NewFunctionBuilder().
		WithFunc(host.memoryDelete).
		Export("memory_delete")
	builder.NewFunctionBuilder().
		WithFunc(host.memoryList).
		Export("memory_list")
	builder.NewFunctionBuilder().
		WithFunc(host.aiChat).
		Export("ai_chat")
	builder.NewFunctionBuilder().
		WithFunc(host.aiGenerateJSON).
		Export("ai_generate_json")
	builder.NewFunctionBuilder().
		WithFunc(host.httpRequest).
		Export("http_request")
	builder.NewFunctionBuilder().
		WithFunc(host.fileRead).
		Export("file_read")
	builder.NewFunctionBuilder().
		WithFunc(host.fileWrite).
		Export("file_write")
	builder.NewFunctionBuilder().
		WithFunc(host.log).
		Export("log")

	return builder.Instantiate(ctx)
}

// readBytes copies length bytes at ptr out of the guest's linear memory.
func readBytes(mod api.Module, ptr, length uint32) ([]byte, error) {
	buf, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return nil, cerr.Wasm(fmt.Sprintf("out-of-bounds guest memory read at %d len %d", ptr, length), nil)
	}
	// Memory() returns a view; copy before the guest can mutate it further.
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}

// writeResult allocates length bytes in the guest's linear memory via its
// exported `cis_alloc` function and copies data into it, returning the
// packed (ptr,len) word the guest expects back.
func writeResult(mod api.Module, data []byte) uint64 {
	if len(data) == 0 {
		return packPtrLen(0, 0)
	}
	alloc := mod.ExportedFunction("cis_alloc")
	if alloc == nil {
		// No allocator exported: nothing we can do but report an empty
		// result rather than corrupt guest memory.
		return packPtrLen(0, 0)
	}
	results, err := alloc.Call(context.Background(), uint64(len(data)))
	if err != nil || len(results) == 0 {
		return packPtrLen(0, 0)
	}
	ptr := uint32(results[0])
	mod.Memory().Write(ptr, data)
	return packPtrLen(ptr, uint32(len(data)))
}

func (h *Host) memoryGet(ctx context.Context, mod api.Module, keyPtr, keyLen uint32) uint64 {
	key, err := readBytes(mod, keyPtr, keyLen)
	if err != nil {
		return packPtrLen(0, 0)
	}
	entry, ok := h.ctx.Get(string(key))
	if !ok {
		return packPtrLen(0, 0)
	}
	return writeResult(mod, entry.Value)
}

func (h *Host) memorySet(ctx context.Context, mod api.Module, keyPtr, keyLen, valPtr, valLen uint32) int32 {
	if h.writer == nil {
		return int32(resultDenied)
	}
	key, err := readBytes(mod, keyPtr, keyLen)
	if err != nil {
		return int32(resultError)
	}
	val, err := readBytes(mod, valPtr, valLen)
	if err != nil {
		return int32(resultError)
	}
	if err := h.writer.Set(string(key), val); err != nil {
		return int32(resultError)
	}
	return int32(resultOK)
}

func (h *Host) memoryDelete(ctx context.Context, mod api.Module, keyPtr, keyLen uint32) int32 {
	if h.writer == nil {
		return int32(resultDenied)
	}
	key, err := readBytes(mod, keyPtr, keyLen)
	if err != nil {
		return int32(resultError)
	}
	existed, err := h.writer.Delete(string(key))
	if err != nil {
		return int32(resultError)
	}
	if !existed {
		return int32(resultNotFound)
	}
	return int32(resultOK)
}

func (h *Host) memoryList(ctx context.Context, mod api.Module, prefixPtr, prefixLen uint32) uint64 {
	prefix, err := readBytes(mod, prefixPtr, prefixLen)
	if err != nil {
		return packPtrLen(0, 0)
	}
	filter := memory.ListFilter{Prefix: string(prefix)}
	var matched []string
	for _, key := range h.ctx.Keys() {
		entry, _ := h.ctx.Get(key)
		if filter.Matches(entry) {
			matched = append(matched, key)
		}
	}
	return writeResult(mod, []byte(joinKeys(matched)))
}

func joinKeys(keys []string) string {
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += "\n"
		}
		out += k
	}
	return out
}

func (h *Host) aiChat(ctx context.Context, mod api.Module, promptPtr, promptLen uint32) uint64 {
	if h.ai == nil {
		return packPtrLen(0, 0)
	}
	prompt, err := readBytes(mod, promptPtr, promptLen)
	if err != nil {
		return packPtrLen(0, 0)
	}
	reply, err := h.ai.Chat(ctx, string(prompt))
	if err != nil {
		return packPtrLen(0, 0)
	}
	return writeResult(mod, []byte(reply))
}

func (h *Host) aiGenerateJSON(ctx context.Context, mod api.Module, promptPtr, promptLen, schemaPtr, schemaLen uint32) uint64 {
	if h.ai == nil {
		return packPtrLen(0, 0)
	}
	prompt, err := readBytes(mod, promptPtr, promptLen)
	if err != nil {
		return packPtrLen(0, 0)
	}
	schema, err := readBytes(mod, schemaPtr, schemaLen)
	if err != nil {
		return packPtrLen(0, 0)
	}
	reply, err := h.ai.GenerateJSON(ctx, string(prompt), string(schema))
	if err != nil {
		return packPtrLen(0, 0)
	}
	return writeResult(mod, []byte(reply))
}

func (h *Host) httpRequest(ctx context.Context, mod api.Module, reqPtr, reqLen uint32) uint64 {
	if !h.caps.Network || h.http == nil {
		return packPtrLen(0, 0)
	}
	req, err := readBytes(mod, reqPtr, reqLen)
	if err != nil {
		return packPtrLen(0, 0)
	}
	resp, err := h.http.Do(ctx, req)
	if err != nil {
		return packPtrLen(0, 0)
	}
	return writeResult(mod, resp)
}

// fileRead implements the FS half of spec.md §4.2's "Host calls are
// routed through the sandbox (for FS)": every path a skill names is
// validated against h.policy before the host process ever touches disk,
// and the read itself is accounted against the FD cap via
// sandbox.TryAllocateFD (spec.md §4.1 try_allocate_fd).
func (h *Host) fileRead(ctx context.Context, mod api.Module, pathPtr, pathLen uint32) uint64 {
	path, err := readBytes(mod, pathPtr, pathLen)
	if err != nil {
		return packPtrLen(0, 0)
	}
	real, err := h.policy.ValidatePath(string(path), sandbox.Read)
	if err != nil {
		return packPtrLen(0, 0)
	}

	guardFD, err := h.allocateFD()
	if err != nil {
		return packPtrLen(0, 0)
	}
	defer guardFD.Release()

	data, err := os.ReadFile(real)
	if err != nil {
		return packPtrLen(0, 0)
	}
	return writeResult(mod, data)
}

// fileWrite is file_read's write counterpart: Access == Write requires
// real to resolve under one of the policy's writable roots.
func (h *Host) fileWrite(ctx context.Context, mod api.Module, pathPtr, pathLen, dataPtr, dataLen uint32) int32 {
	path, err := readBytes(mod, pathPtr, pathLen)
	if err != nil {
		return int32(resultError)
	}
	data, err := readBytes(mod, dataPtr, dataLen)
	if err != nil {
		return int32(resultError)
	}
	real, err := h.policy.ValidatePath(string(path), sandbox.Write)
	if err != nil {
		return int32(resultDenied)
	}

	guardFD, err := h.allocateFD()
	if err != nil {
		return int32(resultDenied)
	}
	defer guardFD.Release()

	if err := os.WriteFile(real, data, 0o644); err != nil {
		return int32(resultError)
	}
	return int32(resultOK)
}

// allocateFD scopes one FD slot for the duration of a single file_read or
// file_write call. A Host built with a nil fdCount (no accounting wired)
// always succeeds, matching the nil-is-a-no-op convention New's other
// optional collaborators already use.
func (h *Host) allocateFD() (*sandbox.FDGuard, error) {
	if h.fdCount == nil {
		return &sandbox.FDGuard{}, nil
	}
	return sandbox.TryAllocateFD(h.fdCount, h.maxFD)
}

func (h *Host) log(ctx context.Context, mod api.Module, level int32, msgPtr, msgLen uint32) {
	msg, err := readBytes(mod, msgPtr, msgLen)
	if err != nil || h.logger == nil {
		return
	}
	switch LogLevel(level) {
	case LogDebug:
		h.logger.Debug(string(msg))
	case LogWarn:
		h.logger.Warn(string(msg))
	case LogError:
		h.logger.Error(string(msg))
	default:
		h.logger.Info(string(msg))
	}
}
