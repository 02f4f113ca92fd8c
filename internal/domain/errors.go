package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel kinds, matched with errors.Is against the typed errors below.
var (
	ErrSchemaMismatch = errors.New("schema mismatch")
	ErrValidation     = errors.New("validation error")
	ErrStorageFault   = errors.New("storage fault")
	ErrRemoteService  = errors.New("remote service error")
	ErrResponseShape  = errors.New("response shape error")
)

// SchemaMismatchError rejects a whole sheet: its header row lacks required
// columns, or the sheet itself is absent from the workbook.
type SchemaMismatchError struct {
	Category Category
	Sheet    string
	Missing  []string
}

func (e *SchemaMismatchError) Error() string {
	if len(e.Missing) == 0 {
		return fmt.Sprintf("schema mismatch: sheet %q (category %s) not found in workbook", e.Sheet, e.Category)
	}
	return fmt.Sprintf("schema mismatch: sheet %q (category %s) missing required headers: %s",
		e.Sheet, e.Category, strings.Join(e.Missing, ", "))
}

func (e *SchemaMismatchError) Is(target error) bool { return target == ErrSchemaMismatch }

type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Msg
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Msg)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// StorageFaultError means the batch was rolled back and the store is unchanged.
type StorageFaultError struct {
	Op       string
	TicketNo string
	Err      error
}

func (e *StorageFaultError) Error() string {
	if e.TicketNo != "" {
		return fmt.Sprintf("storage fault during %s (ticket %s): %v", e.Op, e.TicketNo, e.Err)
	}
	return fmt.Sprintf("storage fault during %s: %v", e.Op, e.Err)
}

func (e *StorageFaultError) Unwrap() error { return e.Err }

func (e *StorageFaultError) Is(target error) bool { return target == ErrStorageFault }

// RemoteServiceError is transient; callers may retry.
type RemoteServiceError struct {
	Provider   string
	StatusCode int
	Timeout    bool
	Attempts   int
	Err        error
}

func (e *RemoteServiceError) Error() string {
	var b strings.Builder
	b.WriteString("remote service error")
	if e.Provider != "" {
		b.WriteString(" (" + e.Provider + ")")
	}
	if e.Timeout {
		b.WriteString(": timeout")
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Attempts > 0 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *RemoteServiceError) Unwrap() error { return e.Err }

func (e *RemoteServiceError) Is(target error) bool { return target == ErrRemoteService }

// ResponseShapeError: the service answered but the payload is not the
// expected structured document. Never retried.
type ResponseShapeError struct {
	Path     string
	Msg      string
	Response string
}

func (e *ResponseShapeError) Error() string {
	msg := "response shape error"
	if e.Path != "" {
		msg += " at " + e.Path
	}
	msg += ": " + e.Msg
	if e.Response != "" {
		resp := e.Response
		if len(resp) > 512 {
			resp = resp[:512] + fmt.Sprintf("... [truncated, total_length=%d]", len(e.Response))
		}
		msg += " (response: " + resp + ")"
	}
	return msg
}

func (e *ResponseShapeError) Is(target error) bool { return target == ErrResponseShape }
