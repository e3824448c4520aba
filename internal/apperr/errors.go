package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/MimeLyc/podharvest/pkg/log"
)

type ErrorType int

const (
	// ErrConfig is a missing or invalid configuration field. It aborts only
	// the channel it belongs to.
	ErrConfig ErrorType = iota
	// ErrLedgerParse is a corrupt or legacy ledger file. Callers recover
	// locally by repairing or defaulting.
	ErrLedgerParse
	// ErrTransport is a failed call to the fetch tool or the summarization
	// service after retries.
	ErrTransport
	// ErrNotFound is a missing input, e.g. no transcript for an item.
	ErrNotFound
	// ErrPartialBatch aggregates failed units of a run.
	ErrPartialBatch
	ErrFileIO
	ErrUnknown
)

func (t ErrorType) String() string {
	switch t {
	case ErrConfig:
		return "Config"
	case ErrLedgerParse:
		return "LedgerParse"
	case ErrTransport:
		return "Transport"
	case ErrNotFound:
		return "NotFound"
	case ErrPartialBatch:
		return "PartialBatch"
	case ErrFileIO:
		return "FileIO"
	default:
		return "Unknown"
	}
}

type Error struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func New(errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func Newf(errorType ErrorType, format string, args ...any) *Error {
	return New(errorType, fmt.Sprintf(format, args...))
}

func Wrap(err error, errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
		Cause:   err,
	}
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Type, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, "context: "+strings.Join(ctxParts, ", "))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Is reports whether err, or anything it wraps, is an *Error of the given type.
func Is(err error, errorType ErrorType) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// TypeOf returns the type of the first *Error in err's chain, or ErrUnknown.
func TypeOf(err error) ErrorType {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrUnknown
}

// Advice returns an operator hint for the error type.
func Advice(errorType ErrorType) string {
	switch errorType {
	case ErrConfig:
		return "Check the channel entry in the channel list file and the summarizer settings file"
	case ErrLedgerParse:
		return "The ledger was repaired or reset; run repair-indexes or rescan to rewrite it"
	case ErrTransport:
		return "Check that the fetch tool is installed and the summarization server is reachable"
	case ErrNotFound:
		return "Enable transcript downloads for the channel or check transcript_languages"
	case ErrPartialBatch:
		return "Review the per-channel table above; failed units are retried on the next run"
	case ErrFileIO:
		return "Check directory permissions and free disk space"
	default:
		return "Review the detailed error and the related configuration"
	}
}

// Report logs err with advice and reports whether it was a typed error.
func Report(err error) bool {
	var appErr *Error
	if !errors.As(err, &appErr) {
		log.Error("Unknown error: %v", err)
		return false
	}
	log.Error("%v (advice: %s)", err, Advice(appErr.Type))
	return true
}

// UnitFailure names one failed channel or item.
type UnitFailure struct {
	Unit string
	Err  error
}

// PartialBatchFailure is returned when a run completed but some units failed.
type PartialBatchFailure struct {
	Total    int
	Failures []UnitFailure
}

func (p *PartialBatchFailure) Error() string {
	names := make([]string, 0, len(p.Failures))
	for _, f := range p.Failures {
		names = append(names, f.Unit)
	}
	return fmt.Sprintf("[%s] %d of %d units failed: %s",
		ErrPartialBatch, len(p.Failures), p.Total, strings.Join(names, ", "))
}

func (p *PartialBatchFailure) Unwrap() error {
	return New(ErrPartialBatch, "partial batch failure")
}

// Add records a failed unit.
func (p *PartialBatchFailure) Add(unit string, err error) {
	p.Failures = append(p.Failures, UnitFailure{Unit: unit, Err: err})
}

// ErrOrNil returns p when at least one unit failed.
func (p *PartialBatchFailure) ErrOrNil() error {
	if p == nil || len(p.Failures) == 0 {
		return nil
	}
	return p
}
