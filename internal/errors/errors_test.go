package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormat(t *testing.T) {
	err := New(CodeDeviceUnavailable, "no such device")
	if !strings.Contains(err.Error(), "DEVICE_UNAVAILABLE") {
		t.Errorf("Error() = %q, want code in message", err.Error())
	}
	if !strings.Contains(err.Error(), "no such device") {
		t.Errorf("Error() = %q, want message text", err.Error())
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("portaudio: device busy")
	err := Wrap(cause, CodeDeviceUnavailable, "open microphone")

	if !stderrors.Is(err, cause) {
		t.Error("wrapped error should match cause via errors.Is")
	}
	if !strings.Contains(err.Error(), "device busy") {
		t.Errorf("Error() = %q, want cause text", err.Error())
	}
}

func TestCodeOf(t *testing.T) {
	err := Newf(CodeRecognitionError, "decode failed after %d frames", 12)
	if CodeOf(err) != CodeRecognitionError {
		t.Errorf("CodeOf = %s, want RECOGNITION_ERROR", CodeOf(err))
	}

	// Code survives further wrapping with %w.
	outer := fmt.Errorf("session: %w", err)
	if CodeOf(outer) != CodeRecognitionError {
		t.Errorf("CodeOf(wrapped) = %s, want RECOGNITION_ERROR", CodeOf(outer))
	}

	if CodeOf(stderrors.New("plain")) != CodeUnknown {
		t.Error("plain error should map to UNKNOWN")
	}
}

func TestIsCode(t *testing.T) {
	err := New(CodeFormatMismatch, "got 44100Hz, want 16000Hz")
	if !IsCode(err, CodeFormatMismatch) {
		t.Error("IsCode should match FORMAT_MISMATCH")
	}
	if IsCode(err, CodeTimeout) {
		t.Error("IsCode should not match TIMEOUT")
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		code  Code
		fatal bool
	}{
		{CodeDeviceUnavailable, true},
		{CodeEngineUnavailable, true},
		{CodeConfigInvalid, true},
		{CodeRecognitionError, false},
		{CodeFrameDropped, false},
		{CodeDeviceDisconnected, false},
	}
	for _, tt := range tests {
		if got := IsFatal(New(tt.code, "x")); got != tt.fatal {
			t.Errorf("IsFatal(%s) = %v, want %v", tt.code, got, tt.fatal)
		}
	}
}

func TestWithMetadata(t *testing.T) {
	err := New(CodeRecognitionError, "engine fault").
		WithMetadata("utterance_start", "1.2s").
		WithMetadata("utterance_end", "3.4s")

	if err.Metadata["utterance_start"] != "1.2s" {
		t.Error("metadata not stored")
	}
	if !strings.Contains(err.Error(), "utterance_end") {
		t.Error("metadata should appear in Error()")
	}
}
