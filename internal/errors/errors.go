package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCategory classifies failures so callers can tell them apart without
// matching on message text.
type ErrorCategory string

const (
	ErrorCategoryUsage           ErrorCategory = "usage"
	ErrorCategoryAdapter         ErrorCategory = "adapter"
	ErrorCategoryHistoryMismatch ErrorCategory = "history_mismatch"
	ErrorCategoryMetadata        ErrorCategory = "metadata"
	ErrorCategoryConfiguration   ErrorCategory = "configuration"
	ErrorCategoryUnknown         ErrorCategory = "unknown"
)

// AnalysisError is the error type returned by every layer of the tool. All of
// them are fatal to the run; the category only drives reporting.
type AnalysisError struct {
	Category   ErrorCategory `json:"category"`
	Operation  string        `json:"operation,omitempty"`
	Ref        string        `json:"ref,omitempty"`
	Message    string        `json:"message"`
	Suggestion string        `json:"suggestion,omitempty"`
	Cause      error         `json:"-"`
}

// Error returns the user-facing message, followed by the cause when the
// message does not already describe it.
func (e *AnalysisError) Error() string {
	if e.Cause != nil && e.Message != "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Message
}

func (e *AnalysisError) Unwrap() error {
	return e.Cause
}

// ErrorBuilder helps construct AnalysisError values.
type ErrorBuilder struct {
	err AnalysisError
}

func NewErrorBuilder() *ErrorBuilder {
	return &ErrorBuilder{}
}

func (b *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	b.err.Category = category
	return b
}

func (b *ErrorBuilder) Operation(operation string) *ErrorBuilder {
	b.err.Operation = operation
	return b
}

func (b *ErrorBuilder) Ref(ref string) *ErrorBuilder {
	b.err.Ref = ref
	return b
}

func (b *ErrorBuilder) Message(message string) *ErrorBuilder {
	b.err.Message = message
	return b
}

func (b *ErrorBuilder) Messagef(format string, args ...interface{}) *ErrorBuilder {
	b.err.Message = fmt.Sprintf(format, args...)
	return b
}

func (b *ErrorBuilder) Suggestion(suggestion string) *ErrorBuilder {
	b.err.Suggestion = suggestion
	return b
}

func (b *ErrorBuilder) Cause(err error) *ErrorBuilder {
	b.err.Cause = err
	return b
}

func (b *ErrorBuilder) Build() *AnalysisError {
	err := b.err
	if err.Category == "" {
		err.Category = ErrorCategoryUnknown
	}
	return &err
}

// NewUsageError reports invalid invocation, such as too few images.
func NewUsageError(message string) *AnalysisError {
	return NewErrorBuilder().
		Category(ErrorCategoryUsage).
		Operation("validate_args").
		Message(message).
		Build()
}

// NewAdapterError reports a failed metadata fetch for ref.
func NewAdapterError(operation, ref, message string, cause error) *AnalysisError {
	return NewErrorBuilder().
		Category(ErrorCategoryAdapter).
		Operation(operation).
		Ref(ref).
		Message(message).
		Cause(cause).
		Suggestion("Check that the image reference exists and is reachable").
		Build()
}

// NewHistoryMismatchError reports that history entries cannot be mapped onto
// the image layers.
func NewHistoryMismatchError(ref string, entries, layers int) *AnalysisError {
	return NewErrorBuilder().
		Category(ErrorCategoryHistoryMismatch).
		Operation("backfill_components").
		Ref(ref).
		Messagef("%s: history has %d non-empty entries but image has %d layers", ref, entries, layers).
		Build()
}

// NewMetadataError reports metadata that could not be parsed.
func NewMetadataError(operation, ref, message string, cause error) *AnalysisError {
	return NewErrorBuilder().
		Category(ErrorCategoryMetadata).
		Operation(operation).
		Ref(ref).
		Message(message).
		Cause(cause).
		Build()
}

// NewConfigurationError reports an invalid configuration file or value.
func NewConfigurationError(operation, message string, cause error) *AnalysisError {
	return NewErrorBuilder().
		Category(ErrorCategoryConfiguration).
		Operation(operation).
		Message(message).
		Cause(cause).
		Suggestion("Check the configuration file and LAYER_REUSE_* environment variables").
		Build()
}

// WrapError wraps an arbitrary error, returning AnalysisError values as-is.
func WrapError(err error, operation string) *AnalysisError {
	if err == nil {
		return nil
	}

	var analysisErr *AnalysisError
	if stderrors.As(err, &analysisErr) {
		return analysisErr
	}

	return NewErrorBuilder().
		Operation(operation).
		Cause(err).
		Build()
}

// CategoryOf returns the category of the first AnalysisError in err's chain.
func CategoryOf(err error) ErrorCategory {
	var analysisErr *AnalysisError
	if stderrors.As(err, &analysisErr) {
		return analysisErr.Category
	}
	return ErrorCategoryUnknown
}

// IsCategory reports whether err carries the given category.
func IsCategory(err error, category ErrorCategory) bool {
	return err != nil && CategoryOf(err) == category
}
