package ink

import "fmt"

// ErrorType distinguishes the three error kinds routed to the host's
// handler: Author hints, recoverable Warnings, and fatal Errors.
type ErrorType int

const (
	ErrorTypeAuthor ErrorType = iota
	ErrorTypeWarning
	ErrorTypeError
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeAuthor:
		return "Author"
	case ErrorTypeWarning:
		return "Warning"
	default:
		return "Error"
	}
}

// StoryError is a fatal runtime condition (divert failure, call-stack
// misuse, bad RANDOM bounds, ...). UseEndLineNumber asks the caller to
// report it at the end of the offending construct rather than its start.
type StoryError struct {
	Message         string
	UseEndLineNumber bool
}

func (e *StoryError) Error() string { return e.Message }

// ErrorHandler receives every Author/Warning/Error message produced
// during a Continue.
type ErrorHandler func(message string, kind ErrorType)

func formatError(kind ErrorType, message string, dm *DebugMetadata, pointer Pointer) string {
	prefix := fmt.Sprintf("RUNTIME %s: ", kindLabel(kind))
	switch {
	case dm != nil && dm.FileName != "":
		return fmt.Sprintf("%s'%s' line %d: %s", prefix, dm.FileName, dm.StartLineNumber, message)
	case dm != nil:
		return fmt.Sprintf("%sline %d: %s", prefix, dm.StartLineNumber, message)
	case !pointer.IsNull():
		return fmt.Sprintf("%s(at %s): %s", prefix, pointer.Path(), message)
	default:
		return prefix + message
	}
}

func kindLabel(kind ErrorType) string {
	if kind == ErrorTypeWarning {
		return "WARNING"
	}
	return "ERROR"
}
