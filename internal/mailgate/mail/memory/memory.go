// Package memory provides an in-process mailbox transport. It backs
// local development and tests, and it is the only transport that
// implements the full mailbox surface.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/relaypost/mailgate/internal/mailgate/mail"
	"github.com/relaypost/mailgate/pkg/idx"
)

type storedMessage struct {
	mail.MessageSummary
}

// Mailbox is a thread-safe in-memory mail transport. Sent messages are
// appended to an outbox for inspection; inbox messages are seeded via
// Deliver.
type Mailbox struct {
	now func() time.Time

	mu      sync.Mutex
	inbox   map[string]*storedMessage
	outbox  []mail.Message
	senders []string
}

// Option configures a Mailbox.
type Option func(*Mailbox)

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Mailbox) { m.now = now }
}

// New creates an empty Mailbox.
func New(opts ...Option) *Mailbox {
	m := &Mailbox{
		now:   time.Now,
		inbox: make(map[string]*storedMessage),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Deliver places an unread message in the inbox and returns its id.
func (m *Mailbox) Deliver(from, subject, body string, receivedAt time.Time) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := strings.ToLower(idx.New().String())
	m.inbox[id] = &storedMessage{MessageSummary: mail.MessageSummary{
		ID:         id,
		From:       from,
		Subject:    subject,
		Body:       body,
		ReceivedAt: receivedAt.UTC(),
	}}
	return id
}

// Send records the outbound message in the outbox.
func (m *Mailbox) Send(_ context.Context, sender string, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outbox = append(m.outbox, msg)
	m.senders = append(m.senders, sender)
	return nil
}

// Sent returns a copy of all messages sent so far.
func (m *Mailbox) Sent() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mail.Message, len(m.outbox))
	copy(out, m.outbox)
	return out
}

// LastSender returns the sender address of the most recent Send.
func (m *Mailbox) LastSender() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.senders) == 0 {
		return ""
	}
	return m.senders[len(m.senders)-1]
}

// ListUnread returns unread inbox messages matching the filter, newest
// first.
func (m *Mailbox) ListUnread(_ context.Context, filter mail.ListFilter) ([]mail.MessageSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	var out []mail.MessageSummary
	for _, msg := range m.inbox {
		if msg.Read || !filter.Matches(msg.ReceivedAt, now) {
			continue
		}
		out = append(out, msg.MessageSummary)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ReceivedAt.After(out[j].ReceivedAt)
	})
	return out, nil
}

// SetReadState flips the read flag on one message.
func (m *Mailbox) SetReadState(_ context.Context, messageID string, read bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.inbox[messageID]
	if !ok {
		return mail.ErrNotFound
	}
	msg.Read = read
	return nil
}

var _ mail.Transport = (*Mailbox)(nil)
