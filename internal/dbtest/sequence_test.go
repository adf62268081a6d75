package dbtest

import (
	"errors"
	"testing"

	"github.com/sirdesai22/event-service/internal/credentials"
)

func TestSequence(t *testing.T) {
	t.Parallel()

	s := &Sequence{ProjectCodes: []string{"ABC12345"}}
	code, err := s.ProjectCode()
	if err != nil || code != "ABC12345" {
		t.Fatalf("code = %q, %v", code, err)
	}
	if _, err := s.ProjectCode(); !errors.Is(err, ErrSequenceExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}
	key, err := s.AccessKey()
	if err != nil || !credentials.ValidAccessKey(key) {
		t.Fatalf("fallback key = %q, %v", key, err)
	}
}
