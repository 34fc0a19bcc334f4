package mail

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSanitizeAddress(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "plain", in: "user@example.com", want: "user@example.com"},
		{name: "trims whitespace", in: "  user@example.com ", want: "user@example.com"},
		{name: "strips crlf injection", in: "user@example.com\r\nBcc: evil@example.com", wantErr: true},
		{name: "display name form", in: "Some User <user@example.com>", want: "user@example.com"},
		{name: "empty", in: "", wantErr: true},
		{name: "nul only", in: "\x00", wantErr: true},
		{name: "not an address", in: "not-an-address", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := SanitizeAddress(tc.in)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidAddress)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestSanitizeSubject(t *testing.T) {
	require.Equal(t, "ab c", SanitizeSubject("a\r\nb\x00 c"))
	require.Equal(t, "no headers here", SanitizeSubject("no headers\r\n here"))

	long := strings.Repeat("x", 500)
	require.Len(t, SanitizeSubject(long), 200)
}

func TestSanitizeMessage(t *testing.T) {
	msg, err := SanitizeMessage(Message{
		To:       []string{"to@example.com"},
		Cc:       []string{"cc@example.com"},
		Subject:  "hi\r\nX-Injected: yes",
		TextBody: "body\x00 with nul",
	})
	require.NoError(t, err)
	require.Equal(t, "hiX-Injected: yes", msg.Subject)
	require.Equal(t, "body with nul", msg.TextBody)

	_, err = SanitizeMessage(Message{Subject: "no recipients"})
	require.ErrorIs(t, err, ErrInvalidAddress)

	_, err = SanitizeMessage(Message{To: []string{"bad address"}})
	require.ErrorIs(t, err, ErrInvalidAddress)
}

func TestListFilterMatches(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("today", func(t *testing.T) {
		f := ListFilter{Scope: FilterToday}
		require.True(t, f.Matches(now.Add(-2*time.Hour), now))
		require.False(t, f.Matches(now.Add(-24*time.Hour), now))
	})

	t.Run("all", func(t *testing.T) {
		f := ListFilter{Scope: FilterAll}
		require.True(t, f.Matches(now.Add(-90*24*time.Hour), now))
	})

	t.Run("range end exclusive", func(t *testing.T) {
		f := ListFilter{
			Scope: FilterRange,
			Start: now.Add(-time.Hour),
			End:   now,
		}
		require.True(t, f.Matches(now.Add(-time.Hour), now))
		require.True(t, f.Matches(now.Add(-time.Minute), now))
		require.False(t, f.Matches(now, now))
	})
}
