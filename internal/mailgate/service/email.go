package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relaypost/mailgate/internal/mailgate/domain"
	"github.com/relaypost/mailgate/internal/mailgate/mail"
	"github.com/relaypost/mailgate/pkg/slogx"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrBadFilter       = errors.New("invalid list filter")
)

// EmailService performs the mail operations behind the gate. Outbound
// messages are sanitised before they reach any transport; the sender
// address comes from the account the gate resolved for the key, falling
// back to the configured default.
type EmailService struct {
	Transport     mail.Transport
	DefaultSender string
}

// BatchResult reports the outcome for one message in a batch read-state
// change.
type BatchResult struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Send sanitises and delivers one outbound message on behalf of key.
func (s *EmailService) Send(ctx context.Context, key domain.APIKey, account domain.EmailAccount, msg mail.Message) error {
	l := slogx.FromContext(ctx)

	msg, err := mail.SanitizeMessage(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	sender := s.DefaultSender
	if !account.IsZero() {
		sender = account.Address
	}

	if err := s.Transport.Send(ctx, sender, msg); err != nil {
		l.Error("send failed", "error", err, "key_id", key.KeyID)
		return err
	}

	l.Info("email sent", "key_id", key.KeyID, "recipients", len(msg.To))
	return nil
}

// ParseListFilter validates raw filter parameters from a request.
// scope defaults to "today" when empty; start and end are RFC 3339
// dates and required only for date_range.
func ParseListFilter(scope, start, end string) (mail.ListFilter, error) {
	if scope == "" {
		scope = string(mail.FilterToday)
	}
	switch mail.FilterScope(scope) {
	case mail.FilterToday:
		return mail.ListFilter{Scope: mail.FilterToday}, nil
	case mail.FilterAll:
		return mail.ListFilter{Scope: mail.FilterAll}, nil
	case mail.FilterRange:
		from, err := time.Parse(time.RFC3339, start)
		if err != nil {
			return mail.ListFilter{}, fmt.Errorf("%w: bad start: %v", ErrBadFilter, err)
		}
		to, err := time.Parse(time.RFC3339, end)
		if err != nil {
			return mail.ListFilter{}, fmt.Errorf("%w: bad end: %v", ErrBadFilter, err)
		}
		if !to.After(from) {
			return mail.ListFilter{}, fmt.Errorf("%w: end must be after start", ErrBadFilter)
		}
		return mail.ListFilter{Scope: mail.FilterRange, Start: from, End: to}, nil
	default:
		return mail.ListFilter{}, fmt.Errorf("%w: unknown scope %q", ErrBadFilter, scope)
	}
}

// ListUnread returns unread messages matching the filter.
func (s *EmailService) ListUnread(ctx context.Context, filter mail.ListFilter) ([]mail.MessageSummary, error) {
	msgs, err := s.Transport.ListUnread(ctx, filter)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []mail.MessageSummary{}
	}
	return msgs, nil
}

// SetReadState marks one message read or unread.
func (s *EmailService) SetReadState(ctx context.Context, messageID string, read bool) error {
	err := s.Transport.SetReadState(ctx, messageID, read)
	if errors.Is(err, mail.ErrNotFound) {
		return ErrMessageNotFound
	}
	return err
}

// SetReadStateBatch applies a read-state change to many messages,
// reporting per-message outcomes. One bad identifier does not abort the
// rest.
func (s *EmailService) SetReadStateBatch(ctx context.Context, messageIDs []string, read bool) []BatchResult {
	results := make([]BatchResult, 0, len(messageIDs))
	for _, id := range messageIDs {
		res := BatchResult{ID: id, OK: true}
		if err := s.SetReadState(ctx, id, read); err != nil {
			res.OK = false
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	return results
}
