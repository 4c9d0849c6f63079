package formulaeval

import (
	"errors"
	"fmt"
	"strings"
)

// AppErrorCode represents gRPC-style error codes for engine faults. these
// abort an evaluation, unlike spreadsheet errors which are ordinary values.
type AppErrorCode int

const (
	// OK indicates the operation completed successfully.
	OK AppErrorCode = 0

	// Unknown error. Errors raised by collaborators that do not return
	// enough error information may be converted to this error.
	Unknown AppErrorCode = 2

	// InvalidArgument indicates client specified an invalid argument.
	InvalidArgument AppErrorCode = 3

	// NotFound means some requested entity (e.g., an external workbook) was
	// not found.
	NotFound AppErrorCode = 5

	// AlreadyExists means an attempt to register an entity failed because
	// one already exists.
	AlreadyExists AppErrorCode = 6

	// FailedPrecondition indicates operation was rejected because the
	// system is not in a state required for the operation's execution.
	FailedPrecondition AppErrorCode = 9

	// OutOfRange means operation was attempted past the valid range.
	OutOfRange AppErrorCode = 11

	// Unimplemented indicates a function or token kind is known but not
	// supported by this engine.
	Unimplemented AppErrorCode = 12

	// Internal errors. Means some invariants expected by the evaluator
	// have been broken, e.g. a malformed token stream.
	Internal AppErrorCode = 13
)

func (c AppErrorCode) String() string {
	switch c {
	case OK:
		return "OK"
	case InvalidArgument:
		return "InvalidArgument"
	case NotFound:
		return "NotFound"
	case AlreadyExists:
		return "AlreadyExists"
	case FailedPrecondition:
		return "FailedPrecondition"
	case OutOfRange:
		return "OutOfRange"
	case Unimplemented:
		return "Unimplemented"
	case Internal:
		return "Internal"
	}
	return "Unknown"
}

// AppError represents errors at the application level (not
// spreadsheet formula errors)
type AppError struct {
	Code    AppErrorCode
	Message string
}

func (e *AppError) Error() string {
	return e.Message
}

// NewApplicationError creates a new application error
func NewApplicationError(code AppErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// AppErrorCodeOf returns the code of the first AppError in err's chain,
// Unknown when there is none.
func AppErrorCodeOf(err error) AppErrorCode {
	if err == nil {
		return OK
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return Unknown
}

// WorkbookNotFoundError is raised when a formula references a workbook that
// was not set up in the evaluation environment.
type WorkbookNotFoundError struct {
	*AppError
	WorkbookName string
}

func newWorkbookNotFoundError(name string, known []string) *WorkbookNotFoundError {
	var msg strings.Builder
	fmt.Fprintf(&msg, "Could not resolve external workbook name '%s'.", name)
	if len(known) == 0 {
		msg.WriteString(" Workbook environment has not been set up.")
	} else {
		msg.WriteString(" The following workbook names are valid: (")
		for i, n := range known {
			if i > 0 {
				msg.WriteString(", ")
			}
			fmt.Fprintf(&msg, "'%s'", n)
		}
		msg.WriteString(")")
	}
	return &WorkbookNotFoundError{
		AppError:     NewApplicationError(NotFound, msg.String()),
		WorkbookName: name,
	}
}

func (e *WorkbookNotFoundError) Unwrap() error { return e.AppError }

// NotImplementedError is raised when a formula calls a function the engine
// knows about but has no implementation for.
type NotImplementedError struct {
	*AppError
	FunctionName string
}

func newNotImplementedError(name string) *NotImplementedError {
	return &NotImplementedError{
		AppError:     NewApplicationError(Unimplemented, name+" is not implemented"),
		FunctionName: name,
	}
}

func (e *NotImplementedError) Unwrap() error { return e.AppError }

// evaluationFault carries an engine fault out of lazily evaluated areas and
// references, whose accessors cannot return errors. it is recovered at the
// formula boundary and turned back into an error.
type evaluationFault struct {
	err error
}

func raiseFault(err error) {
	panic(&evaluationFault{err: err})
}

// recoverFault converts a recovered evaluationFault into *errp. any other
// panic is re-raised.
func recoverFault(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	if f, ok := r.(*evaluationFault); ok {
		*errp = f.err
		return
	}
	panic(r)
}
