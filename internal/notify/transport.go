package notify

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// Envelope is a rendered notification ready for the wire.
type Envelope struct {
	ID          int64
	Kind        Kind
	Channel     string
	To          string
	Subject     string
	Body        string
	Attachments []File
}

type File struct {
	Name string
	Data []byte
}

// Transport delivers one envelope. Retry policy lives in the delivery worker.
type Transport interface {
	Send(ctx context.Context, env Envelope) error
}

// Router dispatches by channel.
type Router map[string]Transport

func (r Router) Send(ctx context.Context, env Envelope) error {
	t, ok := r[env.Channel]
	if !ok {
		return fmt.Errorf("no transport for channel %q", env.Channel)
	}
	return t.Send(ctx, env)
}

// LogTransport prints envelopes instead of sending them.
type LogTransport struct{}

func (LogTransport) Send(ctx context.Context, env Envelope) error {
	log.Printf("✉️ [%s] %s -> %s: %s (%d attachments)", env.Channel, env.Kind, env.To, env.Subject, len(env.Attachments))
	return nil
}

// RecordingTransport keeps every envelope in memory. Fail, when set, decides
// per envelope whether delivery errors.
type RecordingTransport struct {
	mu   sync.Mutex
	Sent []Envelope
	Fail func(Envelope) error
}

func (r *RecordingTransport) Send(ctx context.Context, env Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		if err := r.Fail(env); err != nil {
			return err
		}
	}
	r.Sent = append(r.Sent, env)
	return nil
}

// Envelopes returns a copy of what was sent.
func (r *RecordingTransport) Envelopes() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Envelope(nil), r.Sent...)
}
