package common

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"conflict", &ConflictError{Bank: 1, Keys: []string{"g1"}}, ErrConflict},
		{"precondition", &PreconditionError{Op: "delete profile", Reason: "default"}, ErrPrecondition},
		{"not found", &NotFoundError{Entity: "macro", Key: "g1"}, ErrNotFound},
		{"unavailable", Unavailable("set", errors.New("disk full")), ErrBackendUnavailable},
		{"wrapped conflict", fmt.Errorf("toggle: %w", &ConflictError{Bank: 2}), ErrConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.target) {
				t.Errorf("errors.Is(%v, %v) = false, want true", tt.err, tt.target)
			}
		})
	}

	if errors.Is(&ConflictError{}, ErrPrecondition) {
		t.Error("ConflictError should not match ErrPrecondition")
	}
}

func TestUnavailable(t *testing.T) {
	if Unavailable("op", nil) != nil {
		t.Error("Unavailable(nil) should return nil")
	}

	cause := errors.New("database is locked")
	err := Unavailable("set /apps/gnome15/x", cause)
	if !errors.Is(err, cause) {
		t.Error("Unavailable should unwrap to its cause")
	}
	if !strings.Contains(err.Error(), "database is locked") {
		t.Errorf("Error() = %q, should include cause", err.Error())
	}
}

func TestNotFoundErrorMessage(t *testing.T) {
	if got := (&NotFoundError{Entity: "profile", Key: "3"}).Error(); got != "profile 3 not found" {
		t.Errorf("Error() = %q", got)
	}
	if got := (&NotFoundError{Entity: "device"}).Error(); got != "device not found" {
		t.Errorf("Error() = %q", got)
	}
}

func TestWrapError(t *testing.T) {
	wrapped := WrapError(ErrNotFound, "additional context")
	if !strings.Contains(wrapped.Error(), "additional context") {
		t.Error("WrapError should include additional context")
	}
	if !errors.Is(wrapped, ErrNotFound) {
		t.Error("WrapError should unwrap to the original error")
	}
	if WrapError(nil, "context") != nil {
		t.Error("WrapError(nil) should return nil")
	}
}

func TestRGB(t *testing.T) {
	tests := []struct {
		in      string
		want    RGB
		wantErr bool
	}{
		{"255,0,128", RGB{255, 0, 128}, false},
		{"0,0,0", RGB{}, false},
		{" 1, 2 ,3", RGB{1, 2, 3}, false},
		{"256,0,0", RGB{}, true},
		{"1,2", RGB{}, true},
		{"a,b,c", RGB{}, true},
		{"", RGB{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRGB(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRGB(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseRGB(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}

	if s := (RGB{213, 65, 54}).String(); s != "213,65,54" {
		t.Errorf("RGB.String() = %q, want 213,65,54", s)
	}
}

func TestStringInSlice(t *testing.T) {
	slice := []string{"g1", "g2", "m1"}
	if !StringInSlice("g2", slice) {
		t.Error("StringInSlice should return true for existing element")
	}
	if StringInSlice("g3", slice) {
		t.Error("StringInSlice should return false for missing element")
	}

	if out := RemoveFromSlice([]string{"a", "b", "a"}, "a"); len(out) != 1 || out[0] != "b" {
		t.Errorf("RemoveFromSlice = %v, want [b]", out)
	}
}

func TestGenerateID(t *testing.T) {
	id1, id2 := GenerateID(), GenerateID()
	if len(id1) != 36 {
		t.Errorf("GenerateID() length = %d, want 36", len(id1))
	}
	if id1 == id2 {
		t.Error("GenerateID() should return unique IDs")
	}
}
