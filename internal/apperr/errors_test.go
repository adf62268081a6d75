package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestIsMatchesByCode(t *testing.T) {
	t.Parallel()

	err := Newf(CodeCapacityExhausted, "event %s is full", "e-1")
	if !errors.Is(err, ErrCapacityExhausted) {
		t.Fatal("expected capacity error to match sentinel")
	}
	if errors.Is(err, ErrRoleConflict) {
		t.Fatal("expected capacity error not to match role conflict")
	}

	wrapped := fmt.Errorf("approve: %w", err)
	if got := KindOf(wrapped); got != KindCapacity {
		t.Fatalf("KindOf = %q, want %q", got, KindCapacity)
	}
}

func TestValidationAggregatesFields(t *testing.T) {
	t.Parallel()

	var v Validation
	if v.Err() != nil {
		t.Fatal("expected nil error for empty validation")
	}
	v.Check(false, "title", "required")
	v.Check(true, "city", "required")
	v.Add("title", "second message is ignored")
	v.Add("end_date", "must not precede start date")

	err := v.Err()
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if len(e.Fields) != 2 {
		t.Fatalf("fields = %d, want 2", len(e.Fields))
	}
	if e.Fields["title"] != "required" {
		t.Fatalf("title message = %q", e.Fields["title"])
	}
	if !strings.Contains(err.Error(), "end_date: must not precede start date") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestKindMappings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code   Code
		status int
		exit   int
	}{
		{CodeMissingDocument, http.StatusBadRequest, 2},
		{CodeRoleConflict, http.StatusConflict, 3},
		{CodeCapacityExhausted, http.StatusConflict, 3},
		{CodeDuplicateEmail, http.StatusConflict, 3},
		{CodeNotFound, http.StatusNotFound, 4},
		{CodeAuthBadSecret, http.StatusUnauthorized, 5},
		{CodeForbidden, http.StatusForbidden, 5},
		{CodeTransportFailure, http.StatusBadGateway, 1},
		{Code("mystery"), http.StatusInternalServerError, 1},
	}
	for _, tc := range tests {
		if got := tc.code.Kind().HTTPStatus(); got != tc.status {
			t.Fatalf("%s status = %d, want %d", tc.code, got, tc.status)
		}
		if got := tc.code.Kind().ExitCode(); got != tc.exit {
			t.Fatalf("%s exit = %d, want %d", tc.code, got, tc.exit)
		}
	}
}

func TestCodeOfPlainError(t *testing.T) {
	t.Parallel()

	if got := CodeOf(errors.New("boom")); got != CodeInternal {
		t.Fatalf("CodeOf = %q, want %q", got, CodeInternal)
	}
}
