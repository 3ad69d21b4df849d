package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/rowanvale/sentinel/pkg/logger"
)

// EmailService defines the interface for outbound mail dispatch.
type EmailService interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// MailTemplate is the rendered shape returned by template lookup.
type MailTemplate struct {
	Title        string
	HTMLTemplate string // contains a single %s slot for the code
}

// TemplateResolver looks up the mail template for a (purpose, locale) pair.
type TemplateResolver interface {
	Resolve(purpose, locale string) MailTemplate
}

// localeTemplates is the built-in template set. Lookup falls back to the
// purpose's English template, then to a generic one.
type localeTemplates struct {
	templates map[string]MailTemplate // keyed "purpose|locale"
}

func NewTemplateResolver() TemplateResolver {
	return &localeTemplates{templates: builtinTemplates()}
}

func (r *localeTemplates) Resolve(purpose, locale string) MailTemplate {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if locale == "" {
		locale = "en"
	}
	if t, ok := r.templates[purpose+"|"+locale]; ok {
		return t
	}
	if t, ok := r.templates[purpose+"|en"]; ok {
		return t
	}
	return MailTemplate{
		Title:        "Your verification code",
		HTMLTemplate: `<p>Your verification code is <strong>%s</strong>. It expires in 30 minutes.</p>`,
	}
}

func builtinTemplates() map[string]MailTemplate {
	mk := func(title, lead string) MailTemplate {
		return MailTemplate{
			Title: title,
			HTMLTemplate: fmt.Sprintf(`<html><body style="font-family: Arial, sans-serif; color: #333;">
<h2>%s</h2>
<p>%s</p>
<p style="font-size: 24px; letter-spacing: 4px;"><strong>%%s</strong></p>
<p>This code expires in 30 minutes. If you did not request it, you can ignore this email.</p>
</body></html>`, title, lead),
		}
	}

	return map[string]MailTemplate{
		"registration|en":          mk("Confirm your registration", "Use this code to finish creating your account:"),
		"login-email|en":           mk("Your sign-in code", "Use this code to complete your sign-in:"),
		"change-email|en":          mk("Confirm your new email address", "Use this code to confirm the email change:"),
		"change-password|en":       mk("Confirm your password change", "Use this code to confirm your password change:"),
		"forgot-password|en":       mk("Reset your password", "Use this code to reset your password:"),
		"enable-email-factor|en":   mk("Enable email verification", "Use this code to enable email sign-in verification:"),
		"disable-email-factor|en":  mk("Disable email verification", "Use this code to disable email sign-in verification:"),
		"registration|de":          mk("Registrierung bestätigen", "Verwenden Sie diesen Code, um Ihr Konto zu erstellen:"),
		"login-email|de":           mk("Ihr Anmeldecode", "Verwenden Sie diesen Code, um die Anmeldung abzuschließen:"),
		"forgot-password|de":       mk("Passwort zurücksetzen", "Verwenden Sie diesen Code, um Ihr Passwort zurückzusetzen:"),
	}
}

// AWSSESEmailService sends mail through AWS SES.
type AWSSESEmailService struct {
	sesClient   *ses.Client
	fromAddress string
	logger      *slog.Logger
}

func NewAWSSESEmailService(region, fromAddress string, log *slog.Logger) (*AWSSESEmailService, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESEmailService{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		logger:      log,
	}, nil
}

func (s *AWSSESEmailService) Send(ctx context.Context, to, subject, htmlBody string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data: aws.String(htmlBody),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send email via SES",
			slog.String("email", logger.SanitizedEmail(to)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		slog.String("email", logger.SanitizedEmail(to)),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}
