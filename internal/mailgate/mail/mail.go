// Package mail defines the outbound and inbound mail transport used by
// the email service, plus the sanitisers applied to user-supplied
// header values before a message reaches any transport.
package mail

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a message identifier does not exist
	// in the mailbox.
	ErrNotFound = errors.New("message not found")

	// ErrUnsupported is returned by transports that cannot serve an
	// operation, such as mailbox reads on a send-only provider.
	ErrUnsupported = errors.New("operation not supported by this transport")

	// ErrTransport wraps upstream provider failures so handlers can map
	// them to a gateway error.
	ErrTransport = errors.New("mail transport failure")
)

// Message is an outbound email.
type Message struct {
	To       []string `json:"to"`
	Cc       []string `json:"cc,omitempty"`
	Bcc      []string `json:"bcc,omitempty"`
	Subject  string   `json:"subject"`
	TextBody string   `json:"text_body"`
	HTMLBody string   `json:"html_body,omitempty"`
}

// MessageSummary describes one stored mailbox message.
type MessageSummary struct {
	ID         string    `json:"id"`
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	Read       bool      `json:"read"`
	ReceivedAt time.Time `json:"received_at"`
}

// FilterScope selects which unread messages a listing returns.
type FilterScope string

const (
	FilterToday FilterScope = "today"
	FilterAll   FilterScope = "all"
	FilterRange FilterScope = "date_range"
)

// ListFilter narrows an unread listing. Start and End are only
// consulted when Scope is FilterRange; End is exclusive.
type ListFilter struct {
	Scope FilterScope
	Start time.Time
	End   time.Time
}

// Matches reports whether a message received at ts falls inside the
// filter, evaluated against now in UTC.
func (f ListFilter) Matches(ts, now time.Time) bool {
	switch f.Scope {
	case FilterToday:
		y1, m1, d1 := ts.UTC().Date()
		y2, m2, d2 := now.UTC().Date()
		return y1 == y2 && m1 == m2 && d1 == d2
	case FilterRange:
		return !ts.Before(f.Start) && ts.Before(f.End)
	default:
		return true
	}
}

// Transport delivers outbound messages and, where the provider supports
// it, reads and mutates a mailbox. Send-only providers return
// ErrUnsupported from the mailbox operations.
type Transport interface {
	// Send delivers msg from the given sender address.
	Send(ctx context.Context, sender string, msg Message) error

	// ListUnread returns unread messages matching the filter, newest
	// first.
	ListUnread(ctx context.Context, filter ListFilter) ([]MessageSummary, error)

	// SetReadState marks one message read or unread.
	SetReadState(ctx context.Context, messageID string, read bool) error
}
