package memory

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MessageKind distinguishes outgoing emails.
type MessageKind string

const (
	MessageConfirmSignUp MessageKind = "confirm_signup"
	MessageRecovery      MessageKind = "recovery"
)

// Message is an email the provider would send.
type Message struct {
	To     string
	Kind   MessageKind
	Code   string
	Link   string
	SentAt time.Time
}

// Mailer delivers provider emails.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Outbox is a Mailer that keeps messages in memory.
type Outbox struct {
	mu       sync.Mutex
	messages []Message
}

// NewOutbox returns an empty Outbox.
func NewOutbox() *Outbox {
	return &Outbox{}
}

func (o *Outbox) Send(_ context.Context, msg Message) error {
	o.mu.Lock()
	o.messages = append(o.messages, msg)
	o.mu.Unlock()
	return nil
}

// Last returns the most recent message of kind sent to email.
func (o *Outbox) Last(email string, kind MessageKind) (Message, bool) {
	email = strings.ToLower(strings.TrimSpace(email))

	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.messages) - 1; i >= 0; i-- {
		m := o.messages[i]
		if m.To == email && m.Kind == kind {
			return m, true
		}
	}
	return Message{}, false
}

// Len returns the number of messages sent.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.messages)
}
