package errors

import (
	"errors"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "basic error without underlying",
			err:      &Error{Code: ExitCodeGeneral, Message: "relay failed"},
			expected: "relay failed",
		},
		{
			name:     "error with underlying",
			err:      &Error{Code: ExitCodeSetup, Message: "bind downstream", Underlying: errors.New("address already in use")},
			expected: "bind downstream: address already in use",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.err.Error()
			if result != tt.expected {
				t.Errorf("Error() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	underlying := errors.New("connection refused")
	err := &Error{
		Code:       ExitCodeSetup,
		Message:    "connect upstream",
		Underlying: underlying,
	}

	if err.Unwrap() != underlying {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), underlying)
	}
}

func TestNew(t *testing.T) {
	err := New(ExitCodeUsage, ErrMsgMissingCommand)

	if err.Code != ExitCodeUsage {
		t.Errorf("Code = %d, want %d", err.Code, ExitCodeUsage)
	}
	if err.Message != ErrMsgMissingCommand {
		t.Errorf("Message = %q, want %q", err.Message, ErrMsgMissingCommand)
	}
	if err.Underlying != nil {
		t.Errorf("Underlying = %v, want nil", err.Underlying)
	}
}

func TestWrap(t *testing.T) {
	t.Run("nil error", func(t *testing.T) {
		if Wrap(nil, "context") != nil {
			t.Error("Wrap(nil) should return nil")
		}
	})

	t.Run("plain error", func(t *testing.T) {
		underlying := errors.New("short read")
		err := Wrap(underlying, "event log")

		if err.Code != ExitCodeGeneral {
			t.Errorf("Code = %d, want %d", err.Code, ExitCodeGeneral)
		}
		if err.Message != "event log" {
			t.Errorf("Message = %q, want %q", err.Message, "event log")
		}
		if err.Underlying != underlying {
			t.Errorf("Underlying = %v, want %v", err.Underlying, underlying)
		}
	})

	t.Run("typed error keeps code", func(t *testing.T) {
		inner := New(ExitCodeProtocol, ErrMsgBadFraming)
		err := Wrap(inner, "compositor stream")

		if err.Code != ExitCodeProtocol {
			t.Errorf("Code = %d, want %d", err.Code, ExitCodeProtocol)
		}
		if err.Message != "compositor stream: "+ErrMsgBadFraming {
			t.Errorf("Message = %q", err.Message)
		}
	})
}

func TestWrapWithCode(t *testing.T) {
	underlying := errors.New("no such file")
	err := WrapWithCode(underlying, ExitCodeLog, ErrMsgEventLogFailed)

	if err.Code != ExitCodeLog {
		t.Errorf("Code = %d, want %d", err.Code, ExitCodeLog)
	}
	if !errors.Is(err, underlying) {
		t.Error("wrapped error should match underlying via errors.Is")
	}
}

func TestIsExitCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     ExitCode
		expected bool
	}{
		{"nil error", nil, ExitCodeGeneral, false},
		{"matching code", New(ExitCodeProtocol, "bad frame"), ExitCodeProtocol, true},
		{"mismatched code", New(ExitCodeIO, "send failed"), ExitCodeProtocol, false},
		{"plain error", errors.New("plain"), ExitCodeGeneral, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExitCode(tt.err, tt.code); got != tt.expected {
				t.Errorf("IsExitCode() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestHandleReturn(t *testing.T) {
	if code := HandleReturn(nil); code != ExitCodeSuccess {
		t.Errorf("HandleReturn(nil) = %d, want %d", code, ExitCodeSuccess)
	}

	if code := HandleReturn(New(ExitCodeSetup, "listen downstream")); code != ExitCodeSetup {
		t.Errorf("HandleReturn() = %d, want %d", code, ExitCodeSetup)
	}

	if code := HandleReturn(errors.New("plain")); code != ExitCodeGeneral {
		t.Errorf("HandleReturn(plain) = %d, want %d", code, ExitCodeGeneral)
	}
}
