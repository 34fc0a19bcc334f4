// Package ses implements a send-only mail transport backed by the AWS
// SES v2 API. Mailbox operations are not available through SES and
// return mail.ErrUnsupported.
package ses

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/relaypost/mailgate/internal/mailgate/mail"
)

const maxRetries = 3

const baseRetryDelay = 1 * time.Second

// Config holds the settings for creating a Transport.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// SendEmailAPI is the slice of the SES v2 client the transport uses.
// Tests substitute a mock.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Transport sends email via AWS SES v2 with retry on transient errors.
type Transport struct {
	client SendEmailAPI
}

// New creates a Transport from AWS configuration. Static credentials
// are used when provided, otherwise the default chain applies.
func New(ctx context.Context, cfg Config) (*Transport, error) {
	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts, awsconfig.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return &Transport{client: sesv2.NewFromConfig(awsCfg)}, nil
}

// NewWithClient creates a Transport with a custom client, used for
// testing.
func NewWithClient(client SendEmailAPI) *Transport {
	return &Transport{client: client}
}

// Send delivers the message through SES, retrying with exponential
// backoff on API errors.
func (t *Transport) Send(ctx context.Context, sender string, msg mail.Message) error {
	input := buildInput(sender, msg)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying SES request",
				slog.Int("attempt", attempt),
				slog.Int("max_retries", maxRetries),
			)
			if err := sleepWithContext(ctx, backoffDelay(attempt)); err != nil {
				return fmt.Errorf("%w: %v", mail.ErrTransport, err)
			}
		}

		_, err := t.client.SendEmail(ctx, input)
		if err == nil {
			return nil
		}

		lastErr = err
		slog.Warn("SES API error",
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
	}

	return fmt.Errorf("%w: after %d retries: %v", mail.ErrTransport, maxRetries, lastErr)
}

// ListUnread is not available over SES.
func (t *Transport) ListUnread(context.Context, mail.ListFilter) ([]mail.MessageSummary, error) {
	return nil, mail.ErrUnsupported
}

// SetReadState is not available over SES.
func (t *Transport) SetReadState(context.Context, string, bool) error {
	return mail.ErrUnsupported
}

func buildInput(sender string, msg mail.Message) *sesv2.SendEmailInput {
	body := &types.Body{}
	if msg.HTMLBody != "" {
		body.Html = &types.Content{
			Data:    aws.String(msg.HTMLBody),
			Charset: aws.String("UTF-8"),
		}
	}
	if msg.TextBody != "" {
		body.Text = &types.Content{
			Data:    aws.String(msg.TextBody),
			Charset: aws.String("UTF-8"),
		}
	}

	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(sender),
		Destination: &types.Destination{
			ToAddresses:  msg.To,
			CcAddresses:  msg.Cc,
			BccAddresses: msg.Bcc,
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(msg.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: body,
			},
		},
	}
}

func backoffDelay(attempt int) time.Duration {
	delay := baseRetryDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

var _ mail.Transport = (*Transport)(nil)
