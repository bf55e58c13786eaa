package errors

import (
	"fmt"
	"os"
	"strings"

	"wlproxy/pkg/logger"

	"github.com/fatih/color"
)

type ExitCode int

const (
	ExitCodeSuccess  ExitCode = 0
	ExitCodeGeneral  ExitCode = 1
	ExitCodeUsage    ExitCode = 2
	ExitCodeSetup    ExitCode = 3
	ExitCodeIO       ExitCode = 4
	ExitCodeProtocol ExitCode = 5
	ExitCodeLog      ExitCode = 6
)

// Standardized error messages for consistent user-facing errors
const (
	ErrMsgMissingCommand   = "No command to launch was given"
	ErrMsgMissingDisplay   = "WAYLAND_DISPLAY is not set"
	ErrMsgMissingRuntime   = "XDG_RUNTIME_DIR is not set"
	ErrMsgListenFailed     = "Failed to create the downstream socket"
	ErrMsgUpstreamFailed   = "Failed to connect to the compositor"
	ErrMsgSpawnFailed      = "Failed to launch the target program"
	ErrMsgEventLogFailed   = "Failed to open the event log"
	ErrMsgRelayFailed      = "Relay terminated with an error"
	ErrMsgBadFraming       = "Malformed message framing"
	ErrMsgBadLogFrame      = "Malformed event log frame"
	ErrMsgConflictingModes = "Capture and replay are mutually exclusive"
)

type Error struct {
	Code       ExitCode
	Message    string
	Underlying error
	Suggestion string
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Underlying)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

func New(code ExitCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

func NewWithError(code ExitCode, message string, err error) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Underlying: err,
	}
}

func NewWithSuggestion(code ExitCode, message string, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
	}
}

func Wrap(err error, message string) *Error {
	if err == nil {
		return nil
	}

	if wrapped, ok := err.(*Error); ok {
		return &Error{
			Code:       wrapped.Code,
			Message:    message + ": " + wrapped.Message,
			Underlying: wrapped.Underlying,
			Suggestion: wrapped.Suggestion,
		}
	}

	return &Error{
		Code:       ExitCodeGeneral,
		Message:    message,
		Underlying: err,
	}
}

func WrapWithCode(err error, code ExitCode, message string) *Error {
	if err == nil {
		return nil
	}

	var errMsg string
	if wrapped, ok := err.(*Error); ok {
		errMsg = wrapped.Message
		if wrapped.Underlying != nil {
			errMsg += ": " + wrapped.Underlying.Error()
		}
	} else {
		errMsg = err.Error()
	}

	return &Error{
		Code:       code,
		Message:    message + ": " + errMsg,
		Underlying: err,
	}
}

func IsExitCode(err error, code ExitCode) bool {
	if err == nil {
		return false
	}

	if e, ok := err.(*Error); ok {
		return e.Code == code
	}

	return false
}

// HandleReturn processes an error and returns the appropriate exit code.
// It does not call os.Exit - the caller is responsible for exiting the
// program.
func HandleReturn(err error) ExitCode {
	if err == nil {
		return ExitCodeSuccess
	}

	var exitCode ExitCode = ExitCodeGeneral
	var message string
	var suggestion string

	if e, ok := err.(*Error); ok {
		exitCode = e.Code
		message = e.Message
		suggestion = e.Suggestion

		if e.Underlying != nil {
			logger.Error().Err(e.Underlying).Msg(e.Message)
		} else {
			logger.Error().Msg(e.Message)
		}
	} else {
		message = err.Error()
		logger.Error().Msg(message)
	}

	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow)

	fmt.Fprintln(os.Stderr)
	red.Fprint(os.Stderr, "Error: ")
	fmt.Fprintln(os.Stderr, message)

	if suggestion != "" {
		yellow.Fprint(os.Stderr, "Suggestion: ")
		lines := strings.Split(suggestion, "\n")
		for i, line := range lines {
			if i == 0 {
				fmt.Fprintln(os.Stderr, line)
			} else {
				fmt.Fprintln(os.Stderr, "           "+line)
			}
		}
	}

	fmt.Fprintln(os.Stderr)

	return exitCode
}
