// Package errors provides structured error types for bmad-assist.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for bmad-assist.
const (
	// Config errors
	CodeConfigMissing Code = "CONFIG_MISSING"
	CodeConfigInvalid Code = "CONFIG_INVALID"

	// Provider errors
	CodeProviderTimeout  Code = "PROVIDER_TIMEOUT"
	CodeProviderExitCode Code = "PROVIDER_EXIT_CODE"

	// Review errors
	CodeInsufficientReviews Code = "INSUFFICIENT_REVIEWS"

	// Compiler errors
	CodeCompiler      Code = "COMPILER_ERROR"
	CodeParser        Code = "PARSER_ERROR"
	CodeVariable      Code = "VARIABLE_ERROR"
	CodeAmbiguousFile Code = "AMBIGUOUS_FILE"
	CodePatch         Code = "PATCH_ERROR"

	// Infrastructure errors
	CodeStorage   Code = "STORAGE_ERROR"
	CodeDashboard Code = "DASHBOARD_ERROR"
	CodeLockHeld  Code = "LOCK_HELD"
)

// Category groups error codes for HTTP status mapping.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNotFound
	CategoryBadRequest
	CategoryConflict
	CategoryInternal
	CategoryTimeout
	CategoryUnavailable
)

// codeCategories maps error codes to their categories.
var codeCategories = map[Code]Category{
	CodeConfigMissing:       CategoryBadRequest,
	CodeConfigInvalid:       CategoryBadRequest,
	CodeProviderTimeout:     CategoryTimeout,
	CodeProviderExitCode:    CategoryInternal,
	CodeInsufficientReviews: CategoryInternal,
	CodeCompiler:            CategoryInternal,
	CodeParser:              CategoryBadRequest,
	CodeVariable:            CategoryBadRequest,
	CodeAmbiguousFile:       CategoryConflict,
	CodePatch:               CategoryInternal,
	CodeStorage:             CategoryInternal,
	CodeDashboard:           CategoryBadRequest,
	CodeLockHeld:            CategoryConflict,
}

// HTTPStatus returns the HTTP status code for a category.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryNotFound:
		return 404
	case CategoryBadRequest:
		return 400
	case CategoryConflict:
		return 409
	case CategoryTimeout:
		return 504
	case CategoryUnavailable:
		return 503
	default:
		return 500
	}
}

// Error is the structured error type for bmad-assist.
type Error struct {
	Code  Code   `json:"code"`
	What  string `json:"what"`
	Why   string `json:"why,omitempty"`
	Fix   string `json:"fix,omitempty"`
	Cause error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-friendly message for CLI output.
func (e *Error) UserMessage() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString("\n\nWhy: ")
		b.WriteString(e.Why)
	}
	if e.Fix != "" {
		b.WriteString("\n\nFix: ")
		b.WriteString(e.Fix)
	}
	return b.String()
}

// Category returns the error category for HTTP status mapping.
func (e *Error) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Category().HTTPStatus()
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	type alias Error
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// Is reports whether target is an Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *Error) WithCause(err error) *Error {
	return &Error{
		Code:  e.Code,
		What:  e.What,
		Why:   e.Why,
		Fix:   e.Fix,
		Cause: err,
	}
}

// FieldError describes a single schema violation inside a config document.
type FieldError struct {
	Loc  string `json:"loc"`
	Msg  string `json:"msg"`
	Type string `json:"type"`
}

// ValidationError carries the structured field errors produced by config
// schema validation so the dashboard import preview can render them.
type ValidationError struct {
	Path   string       `json:"path,omitempty"`
	Errors []FieldError `json:"errors"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("config validation failed")
	if e.Path != "" {
		fmt.Fprintf(&b, " for %s", e.Path)
	}
	for _, fe := range e.Errors {
		fmt.Fprintf(&b, "\n  %s: %s (%s)", fe.Loc, fe.Msg, fe.Type)
	}
	return b.String()
}

// --- Error constructors ---

// ErrConfigMissing returns an error when no config file can be found.
func ErrConfigMissing(globalPath, projectPath string) *Error {
	return &Error{
		Code: CodeConfigMissing,
		What: "no bmad-assist configuration found",
		Why:  fmt.Sprintf("neither %s nor %s exists", globalPath, projectPath),
		Fix:  "Run 'bmad-assist init' to create a project configuration",
	}
}

// ErrConfigInvalid returns an error for a config file that failed to load or parse.
func ErrConfigInvalid(path, reason string) *Error {
	return &Error{
		Code: CodeConfigInvalid,
		What: fmt.Sprintf("invalid configuration: %s", path),
		Why:  reason,
		Fix:  "Fix the reported field and re-run",
	}
}

// ErrProviderTimeout returns an error when a provider subprocess exceeded its timeout.
func ErrProviderTimeout(provider string, timeoutSec int) *Error {
	return &Error{
		Code: CodeProviderTimeout,
		What: fmt.Sprintf("provider %s timed out", provider),
		Why:  fmt.Sprintf("no completion after %d seconds; the subprocess was killed", timeoutSec),
		Fix:  "Increase the provider timeout in configuration, or check the provider CLI status",
	}
}

// ErrProviderExitCode returns an error when a provider subprocess exited non-zero.
func ErrProviderExitCode(provider string, exitCode int, stderrPreview string) *Error {
	why := fmt.Sprintf("exit code %d", exitCode)
	if stderrPreview != "" {
		why += ": " + stderrPreview
	}
	return &Error{
		Code: CodeProviderExitCode,
		What: fmt.Sprintf("provider %s failed", provider),
		Why:  why,
		Fix:  "Inspect the debug JSONL log for the full provider output",
	}
}

// ErrInsufficientReviews returns an error when too few evaluators succeeded.
func ErrInsufficientReviews(got, want int) *Error {
	return &Error{
		Code: CodeInsufficientReviews,
		What: fmt.Sprintf("only %d of the required %d evaluators succeeded", got, want),
		Why:  "the multi-provider phase cannot advance on partial evidence",
		Fix:  "Check the failed evaluator logs, or lower providers.min_reviews",
	}
}

// ErrCompiler returns a workflow compilation error.
func ErrCompiler(workflow, reason string) *Error {
	return &Error{
		Code: CodeCompiler,
		What: fmt.Sprintf("cannot compile workflow %q", workflow),
		Why:  reason,
	}
}

// ErrVariable returns a variable resolution error.
func ErrVariable(name, reason string) *Error {
	return &Error{
		Code: CodeVariable,
		What: fmt.Sprintf("cannot resolve variable %q", name),
		Why:  reason,
	}
}

// ErrAmbiguousFile returns an error when a file exists at more than one
// canonical location.
func ErrAmbiguousFile(name string, paths []string) *Error {
	return &Error{
		Code: CodeAmbiguousFile,
		What: fmt.Sprintf("ambiguous location for %s", name),
		Why:  fmt.Sprintf("found at multiple paths: %s", strings.Join(paths, ", ")),
		Fix:  "Remove the stale copy so exactly one location remains",
	}
}

// ErrPatch returns a patch application error.
func ErrPatch(patch, reason string) *Error {
	return &Error{
		Code: CodePatch,
		What: fmt.Sprintf("patch %s failed", patch),
		Why:  reason,
		Fix:  "The compiler will fall back to the unpatched workflow",
	}
}

// ErrStorage returns a benchmarking store error.
func ErrStorage(op, reason string) *Error {
	return &Error{
		Code: CodeStorage,
		What: fmt.Sprintf("benchmark store %s failed", op),
		Why:  reason,
	}
}

// ErrDashboard returns a dashboard request error.
func ErrDashboard(reason string) *Error {
	return &Error{
		Code: CodeDashboard,
		What: "dashboard request rejected",
		Why:  reason,
	}
}

// ErrLockHeld returns an error when the state lock is held by another process.
func ErrLockHeld(owner string, pid int) *Error {
	return &Error{
		Code: CodeLockHeld,
		What: "another bmad-assist process holds the state lock",
		Why:  fmt.Sprintf("owner %s (pid %d)", owner, pid),
		Fix:  "Stop the other process, or wait for its lock to go stale",
	}
}

// As attempts to convert an error to a structured *Error.
// Returns nil if the error chain contains no *Error.
func As(err error) *Error {
	for err != nil {
		if be, ok := err.(*Error); ok {
			return be
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil
		}
		err = u.Unwrap()
	}
	return nil
}

// Wrap wraps a generic error with unknown code.
func Wrap(err error, what string) *Error {
	return &Error{
		Code:  Code("UNKNOWN"),
		What:  what,
		Cause: err,
	}
}
