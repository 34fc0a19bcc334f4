package mail

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

// maxSubjectLen caps the subject after control characters are stripped.
const maxSubjectLen = 200

// ErrInvalidAddress is returned when a recipient fails RFC 5322 parsing
// after sanitisation.
var ErrInvalidAddress = errors.New("invalid email address")

var headerSanitizer = strings.NewReplacer("\r", "", "\n", "", "\x00", "")

// SanitizeAddress strips header-injection characters from an address
// and validates what remains.
func SanitizeAddress(addr string) (string, error) {
	cleaned := strings.TrimSpace(headerSanitizer.Replace(addr))
	if cleaned == "" {
		return "", ErrInvalidAddress
	}
	parsed, err := mail.ParseAddress(cleaned)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	return parsed.Address, nil
}

// SanitizeAddressList sanitises every address in the list, rejecting
// the whole list on the first invalid entry.
func SanitizeAddressList(addrs []string) ([]string, error) {
	if len(addrs) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		cleaned, err := SanitizeAddress(a)
		if err != nil {
			return nil, err
		}
		out = append(out, cleaned)
	}
	return out, nil
}

// SanitizeSubject removes CR, LF and NUL then truncates to the subject
// cap.
func SanitizeSubject(subject string) string {
	cleaned := headerSanitizer.Replace(subject)
	if len(cleaned) > maxSubjectLen {
		cleaned = cleaned[:maxSubjectLen]
	}
	return cleaned
}

// SanitizeBody strips NUL bytes. Line endings are left alone since the
// body is not a header.
func SanitizeBody(body string) string {
	return strings.ReplaceAll(body, "\x00", "")
}

// SanitizeMessage returns a copy of msg with all header-adjacent fields
// cleaned, or an error if any recipient is invalid.
func SanitizeMessage(msg Message) (Message, error) {
	var err error
	if msg.To, err = SanitizeAddressList(msg.To); err != nil {
		return Message{}, err
	}
	if len(msg.To) == 0 {
		return Message{}, fmt.Errorf("%w: no recipients", ErrInvalidAddress)
	}
	if msg.Cc, err = SanitizeAddressList(msg.Cc); err != nil {
		return Message{}, err
	}
	if msg.Bcc, err = SanitizeAddressList(msg.Bcc); err != nil {
		return Message{}, err
	}
	msg.Subject = SanitizeSubject(msg.Subject)
	msg.TextBody = SanitizeBody(msg.TextBody)
	msg.HTMLBody = SanitizeBody(msg.HTMLBody)
	return msg, nil
}
