// Package errors implements CisError, the single sum-type error taxonomy
// described in spec.md §7. Every fallible boundary in CIS returns either a
// T or a *CisError; no layer below the executor/DHT retries implicitly.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Code identifies a CisError category. Front-ends switch on Code rather
// than matching error strings.
type Code string

const (
	CodeNotFound       Code = "NOT_FOUND"
	CodeAlreadyExists  Code = "ALREADY_EXISTS"
	CodeInvalidInput   Code = "INVALID_INPUT"
	CodeValidation     Code = "VALIDATION"
	CodeConfiguration  Code = "CONFIGURATION"
	CodeIO             Code = "IO"
	CodeDatabase       Code = "DATABASE"
	CodeSerialization  Code = "SERIALIZATION"
	CodeNetwork        Code = "NETWORK"
	CodeCrypto         Code = "CRYPTO"
	CodeAuthorization  Code = "AUTHORIZATION"
	CodeMemory         Code = "MEMORY"
	CodeMemoryConflict Code = "MEMORY_CONFLICT"
	CodeScheduler      Code = "SCHEDULER"
	CodeExecution      Code = "EXECUTION"
	CodeAI             Code = "AI"
	CodeWasm           Code = "WASM"
	CodeSandbox        Code = "SANDBOX"
	CodeSkill          Code = "SKILL"
	CodeTimeout        Code = "TIMEOUT"
	CodeCancelled      Code = "CANCELLED"
	CodeOther          Code = "OTHER"
)

// CisError is the taxonomy's single sum type. MemoryConflict-category
// errors carry the offending keys in Keys; every category carries a
// human-readable Message and an optional Suggestions list rendered by
// front-ends alongside the category and message.
type CisError struct {
	Code        Code
	Message     string
	Err         error
	Suggestions []string
	Keys        []string // populated only for CodeMemoryConflict
}

func (e *CisError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Message)
	if len(e.Keys) > 0 {
		fmt.Fprintf(&b, " (keys: %s)", strings.Join(e.Keys, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *CisError) Unwrap() error { return e.Err }

// WithSuggestions returns a copy of e with Suggestions set.
func (e *CisError) WithSuggestions(s ...string) *CisError {
	cp := *e
	cp.Suggestions = s
	return &cp
}

func new_(code Code, message string) *CisError {
	return &CisError{Code: code, Message: message}
}

func wrap(code Code, message string, cause error) *CisError {
	return &CisError{Code: code, Message: message, Err: cause}
}

func NotFound(message string) *CisError      { return new_(CodeNotFound, message) }
func AlreadyExists(message string) *CisError { return new_(CodeAlreadyExists, message) }
func InvalidInput(message string) *CisError  { return new_(CodeInvalidInput, message) }
func Validation(message string) *CisError    { return new_(CodeValidation, message) }
func Configuration(message string) *CisError { return new_(CodeConfiguration, message) }
func IO(message string, cause error) *CisError       { return wrap(CodeIO, message, cause) }
func Database(message string, cause error) *CisError { return wrap(CodeDatabase, message, cause) }
func Serialization(message string, cause error) *CisError {
	return wrap(CodeSerialization, message, cause)
}
func Network(message string, cause error) *CisError { return wrap(CodeNetwork, message, cause) }

// NoPeersReachable reports that a DHT replication fan-out found peers in the
// routing table but every one of them failed to respond (spec.md §6 PUT).
// Distinct from the "no peers known yet" case, which is not an error: a
// brand-new node replicating its first PUT has nobody to replicate to.
var NoPeersReachable = &CisError{Code: CodeNetwork, Message: "no peers reachable for replication"}
func Crypto(message string, cause error) *CisError  { return wrap(CodeCrypto, message, cause) }
func Authorization(message string) *CisError        { return new_(CodeAuthorization, message) }
func Memory(message string) *CisError               { return new_(CodeMemory, message) }

// MemoryConflict builds a CodeMemoryConflict error naming the dirty keys;
// the conflict guard (internal/domain/memory/guard) is the only producer.
func MemoryConflict(keys []string) *CisError {
	return &CisError{
		Code:    CodeMemoryConflict,
		Message: "one or more requested keys have unresolved conflicts",
		Keys:    append([]string(nil), keys...),
	}
}

func Scheduler(message string) *CisError    { return new_(CodeScheduler, message) }
func Execution(message string) *CisError    { return new_(CodeExecution, message) }
func AI(message string, cause error) *CisError   { return wrap(CodeAI, message, cause) }
func Wasm(message string, cause error) *CisError { return wrap(CodeWasm, message, cause) }
func Sandbox(message string) *CisError      { return new_(CodeSandbox, message) }
func Skill(message string) *CisError        { return new_(CodeSkill, message) }
func Timeout(message string) *CisError       { return new_(CodeTimeout, message) }
func Cancelled(message string) *CisError     { return new_(CodeCancelled, message) }
func Other(message string, cause error) *CisError { return wrap(CodeOther, message, cause) }

// Is reports whether err is a *CisError of the given code.
func Is(err error, code Code) bool {
	var ce *CisError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}
