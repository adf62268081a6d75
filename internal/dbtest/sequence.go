package dbtest

import (
	"errors"
	"sync"

	"github.com/sirdesai22/event-service/internal/credentials"
)

// ErrSequenceExhausted is returned by Sequence when a list runs out.
var ErrSequenceExhausted = errors.New("credential sequence exhausted")

// Sequence is a deterministic credentials generator: it hands out the
// configured values in order and falls back to credentials.Random for any
// list left nil.
type Sequence struct {
	mu           sync.Mutex
	AccessKeys   []string
	ProjectCodes []string
	Secrets      []string
}

func (s *Sequence) AccessKey() (string, error) {
	return s.next(&s.AccessKeys, credentials.Random{}.AccessKey)
}

func (s *Sequence) ProjectCode() (string, error) {
	return s.next(&s.ProjectCodes, credentials.Random{}.ProjectCode)
}

func (s *Sequence) Secret() (string, error) {
	return s.next(&s.Secrets, credentials.Random{}.Secret)
}

func (s *Sequence) next(list *[]string, fallback func() (string, error)) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if *list == nil {
		return fallback()
	}
	if len(*list) == 0 {
		return "", ErrSequenceExhausted
	}
	v := (*list)[0]
	*list = (*list)[1:]
	return v, nil
}
