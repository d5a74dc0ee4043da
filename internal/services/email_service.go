package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	pkglogger "github.com/BradenHooton/authgate/pkg/logger"
)

// SESAPI is the subset of the SES client used to send mail
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESLockoutNotifier emails account owners when their account is locked
type SESLockoutNotifier struct {
	sesClient   SESAPI
	fromAddress string
	baseURL     string
	logger      *slog.Logger
}

// NewSESLockoutNotifier loads the default AWS config for region and creates a notifier
func NewSESLockoutNotifier(ctx context.Context, region, fromAddress, baseURL string, logger *slog.Logger) (*SESLockoutNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewSESLockoutNotifierWithClient(ses.NewFromConfig(cfg), fromAddress, baseURL, logger), nil
}

// NewSESLockoutNotifierWithClient creates a notifier around an existing SES client
func NewSESLockoutNotifierWithClient(client SESAPI, fromAddress, baseURL string, logger *slog.Logger) *SESLockoutNotifier {
	return &SESLockoutNotifier{
		sesClient:   client,
		fromAddress: fromAddress,
		baseURL:     baseURL,
		logger:      logger,
	}
}

// NotifyLocked sends the lockout notice. The message never says why the lock was
// placed or how many attempts were seen.
func (s *SESLockoutNotifier) NotifyLocked(ctx context.Context, email string, lockedUntil time.Time) error {
	resetLink := s.baseURL + "/forgot-password"
	until := lockedUntil.UTC().Format("15:04 MST on Jan 2, 2006")

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #f8f9fa; padding: 20px; text-align: center; border-radius: 4px; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Sign-in temporarily paused</h1>
        </div>
        <p>We noticed several unsuccessful sign-in attempts on your account, so sign-in is paused until %s.</p>
        <p>If this was you, wait and try again, or reset your password:<br>
        <a href="%s">%s</a></p>
        <p>If this wasn't you, your password has not been changed. Consider resetting it once the pause ends.</p>
        <div class="footer">
            <p>This is an automated message. Please do not reply to this email.</p>
        </div>
    </div>
</body>
</html>
`, until, resetLink, resetLink)

	textBody := fmt.Sprintf(`Sign-in temporarily paused

We noticed several unsuccessful sign-in attempts on your account, so sign-in is paused until %s.

If this was you, wait and try again, or reset your password:
%s

If this wasn't you, your password has not been changed. Consider resetting it once the pause ends.

This is an automated message. Please do not reply to this email.
`, until, resetLink)

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String("Sign-in to your account is temporarily paused"),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data: aws.String(htmlBody),
				},
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.InfoContext(ctx, "lockout notification sent",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}
