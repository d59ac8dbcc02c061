package utils

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/keighl/postmark"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Email is an outbound HTML message.
type Email struct {
	To      string
	Subject string
	HTML    string
}

// Mailer delivers emails.
type Mailer interface {
	SendEmail(ctx context.Context, email Email) error
}

type postmarkClient interface {
	SendEmail(email postmark.Email) (postmark.EmailResponse, error)
}

// PostmarkMailer sends emails through Postmark.
type PostmarkMailer struct {
	client postmarkClient
	from   string
}

// NewPostmarkMailer creates a PostmarkMailer for the given server token.
func NewPostmarkMailer(serverToken, from string) *PostmarkMailer {
	return &PostmarkMailer{client: postmark.NewClient(serverToken, ""), from: from}
}

// SendEmail sends a basic email to the specified recipient
func (m *PostmarkMailer) SendEmail(ctx context.Context, email Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res, err := m.client.SendEmail(postmark.Email{
		From:     m.from,
		To:       email.To,
		Subject:  email.Subject,
		HtmlBody: email.HTML,
		Tag:      "auth",
	})
	if err != nil {
		return fmt.Errorf("postmark send: %w", err)
	}
	if res.ErrorCode != 0 {
		return fmt.Errorf("postmark send: code %d: %s", res.ErrorCode, res.Message)
	}
	return nil
}

type sendgridClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendgridMailer sends emails through the SendGrid v3 API.
type SendgridMailer struct {
	client sendgridClient
	from   string
}

// NewSendgridMailer creates a SendgridMailer for the given API key.
func NewSendgridMailer(apiKey, from string) *SendgridMailer {
	return &SendgridMailer{client: sendgrid.NewSendClient(apiKey), from: from}
}

func (m *SendgridMailer) SendEmail(ctx context.Context, email Email) error {
	msg := mail.NewSingleEmail(
		mail.NewEmail("", m.from),
		email.Subject,
		mail.NewEmail("", email.To),
		"",
		email.HTML,
	)
	res, err := m.client.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if res.StatusCode >= 300 {
		return fmt.Errorf("sendgrid send: status %d: %s", res.StatusCode, res.Body)
	}
	return nil
}

// LogMailer writes emails to the log instead of delivering them. Meant for
// local development.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendEmail(ctx context.Context, email Email) error {
	m.logger.InfoContext(ctx, "email not delivered (log mailer)",
		slog.String("to", email.To),
		slog.String("subject", email.Subject),
		slog.Int("html_bytes", len(email.HTML)))
	return nil
}

// MailDispatcher sends emails in the background so request handlers do not
// wait on the mail transport. Failures are logged.
type MailDispatcher struct {
	mailer  Mailer
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewMailDispatcher(mailer Mailer, logger *slog.Logger, timeout time.Duration) *MailDispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MailDispatcher{mailer: mailer, logger: logger, timeout: timeout}
}

// Dispatch queues email for delivery. The request context's values are kept
// but its cancellation is not.
func (d *MailDispatcher) Dispatch(ctx context.Context, email Email) {
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		if err := d.mailer.SendEmail(ctx, email); err != nil {
			d.logger.ErrorContext(ctx, "failed to send email",
				slog.String("to", email.To),
				slog.String("subject", email.Subject),
				slog.Any("error", err))
			return
		}
		d.logger.DebugContext(ctx, "email sent", slog.String("to", email.To), slog.String("subject", email.Subject))
	}()
}

// Wait blocks until all dispatched emails finished.
func (d *MailDispatcher) Wait() {
	d.wg.Wait()
}

var otpEmailTemplate = template.Must(template.New("otp").Parse(`<!doctype html>
<html>
<head>
  <meta http-equiv="Content-Type" content="text/html; charset=UTF-8">
</head>
<body style="font-family: sans-serif;">
  <div style="display: block; margin: auto; max-width: 600px;" class="main">
    <h1 style="font-size: 18px; font-weight: bold; margin-top: 20px">{{.Heading}}</h1>
    <p>Please use OTP Code below to verify your email</p>
    <p style="text-align:center;background-color:yellow;padding:10px;font-weight:bold;font-size:20px;border-radius:10px;">{{.Code}}</p>
    <strong style="font-size:12px;">time expires otp code in {{.Minutes}} minutes from now</strong>
  </div>
</body>
</html>`))

// OtpEmail builds the verification email carrying code. regenerated selects
// the wording used for an explicit regeneration.
func OtpEmail(to, username, code string, ttl time.Duration, regenerated bool) (Email, error) {
	subject := "Success Generate OTP Code"
	heading := fmt.Sprintf("Congrats %s you have register", username)
	if regenerated {
		subject = "Success Regenerate Otp Code"
		heading = fmt.Sprintf("Congrats %s you have success generate otp code", username)
	}

	var b strings.Builder
	err := otpEmailTemplate.Execute(&b, struct {
		Heading string
		Code    string
		Minutes int
	}{heading, code, int(ttl.Minutes())})
	if err != nil {
		return Email{}, fmt.Errorf("render otp email: %w", err)
	}
	return Email{To: to, Subject: subject, HTML: b.String()}, nil
}
