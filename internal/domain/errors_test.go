package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"schema", &SchemaMismatchError{Category: CategoryHardware, Sheet: "硬件工单", Missing: []string{"标题(Title)"}}, ErrSchemaMismatch},
		{"validation", &ValidationError{Field: "k", Msg: "must be >= 1"}, ErrValidation},
		{"storage", &StorageFaultError{Op: "upsert", Err: errors.New("locked")}, ErrStorageFault},
		{"remote", &RemoteServiceError{Provider: "openai", StatusCode: 503}, ErrRemoteService},
		{"shape", &ResponseShapeError{Path: "recommendations", Msg: "missing"}, ErrResponseShape},
	}
	for _, tt := range tests {
		wrapped := fmt.Errorf("outer: %w", tt.err)
		if !errors.Is(wrapped, tt.kind) {
			t.Fatalf("%s: expected errors.Is to match its kind", tt.name)
		}
		if errors.Is(wrapped, ErrValidation) && tt.kind != ErrValidation {
			t.Fatalf("%s: unexpectedly matched ErrValidation", tt.name)
		}
	}
}

func TestStorageFaultUnwrapsCause(t *testing.T) {
	cause := errors.New("disk I/O error")
	err := &StorageFaultError{Op: "upsert", TicketNo: "T-9", Err: cause}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable")
	}
	if !strings.Contains(err.Error(), "T-9") {
		t.Fatalf("expected ticket number in message, got %q", err.Error())
	}
}

func TestSchemaMismatchMessageForMissingSheet(t *testing.T) {
	err := &SchemaMismatchError{Category: CategoryNetwork, Sheet: "网络工单"}
	if !strings.Contains(err.Error(), "not found") {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestResponseShapeErrorTruncatesResponse(t *testing.T) {
	err := &ResponseShapeError{Msg: "not json", Response: strings.Repeat("x", 2000)}
	msg := err.Error()
	if !strings.Contains(msg, "total_length=2000") {
		t.Fatalf("expected truncation marker, got %q", msg[len(msg)-60:])
	}
	if len(msg) > 700 {
		t.Fatalf("message too long: %d", len(msg))
	}
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory(" Network ")
	if err != nil || c != CategoryNetwork {
		t.Fatalf("ParseCategory = %q, %v", c, err)
	}
	if _, err := ParseCategory("software"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTicketText(t *testing.T) {
	tk := Ticket{Title: "  Printer jam ", Description: "tray 2 "}
	if tk.Text() != "Printer jam tray 2" {
		t.Fatalf("unexpected text %q", tk.Text())
	}
	if (Ticket{Title: " "}).HasText() {
		t.Fatal("whitespace-only ticket should have no text")
	}
}
