package notifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"regexp"

	"github.com/mrz1836/postmark"
)

// Config holds Postmark notifier configuration.
type Config struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN,required"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN,required"`
	SenderEmail          string `env:"NOTIFIER_SENDER_EMAIL,required"`
	SupportEmail         string `env:"NOTIFIER_SUPPORT_EMAIL,required"`
	ProductName          string `env:"NOTIFIER_PRODUCT_NAME" envDefault:"Billgate"`
}

var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// postmarkAPI is the subset of the Postmark client the notifier uses,
// extracted for testability.
type postmarkAPI interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// PostmarkNotifier delivers notifications through Postmark's transactional
// email API.
type PostmarkNotifier struct {
	client postmarkAPI
	config Config
}

// NewPostmarkNotifier creates a Postmark-backed notifier. All tokens and
// addresses are required so misconfiguration fails at startup, not on the
// first send.
func NewPostmarkNotifier(cfg Config) (*PostmarkNotifier, error) {
	if cfg.PostmarkServerToken == "" {
		return nil, fmt.Errorf("%w: PostmarkServerToken is required", ErrInvalidConfig)
	}
	if cfg.PostmarkAccountToken == "" {
		return nil, fmt.Errorf("%w: PostmarkAccountToken is required", ErrInvalidConfig)
	}
	if !emailRegex.MatchString(cfg.SenderEmail) {
		return nil, fmt.Errorf("%w: SenderEmail must be a valid email address", ErrInvalidConfig)
	}
	if !emailRegex.MatchString(cfg.SupportEmail) {
		return nil, fmt.Errorf("%w: SupportEmail must be a valid email address", ErrInvalidConfig)
	}

	return &PostmarkNotifier{
		client: postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken),
		config: cfg,
	}, nil
}

// Notify renders the template for the kind and sends it.
func (n *PostmarkNotifier) Notify(ctx context.Context, kind Kind, rcpt Recipient, data map[string]string) error {
	tpl, ok := messages[kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	body, err := tpl.render(n.config.ProductName, rcpt, data)
	if err != nil {
		return errors.Join(ErrFailedToSend, err)
	}

	resp, err := n.client.SendEmail(ctx, postmark.Email{
		From:     n.config.SenderEmail,
		ReplyTo:  n.config.SupportEmail,
		To:       rcpt.Email,
		Subject:  tpl.subject(n.config.ProductName),
		Tag:      string(kind),
		HTMLBody: body,
	})
	if err != nil {
		return errors.Join(ErrFailedToSend, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(ErrFailedToSend, fmt.Errorf("postmark error %d: %s", resp.ErrorCode, resp.Message))
	}
	return nil
}

type message struct {
	subjectFmt string
	body       *template.Template
}

func (m message) subject(product string) string {
	return fmt.Sprintf(m.subjectFmt, product)
}

func (m message) render(product string, rcpt Recipient, data map[string]string) (string, error) {
	var buf bytes.Buffer
	err := m.body.Execute(&buf, map[string]any{
		"Product":  product,
		"Email":    rcpt.Email,
		"Platform": rcpt.Platform,
		"Data":     data,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func mustMessage(subjectFmt, body string) message {
	return message{
		subjectFmt: subjectFmt,
		body:       template.Must(template.New("").Parse(body)),
	}
}

var messages = map[Kind]message{
	KindWelcome: mustMessage("Welcome to %s",
		`<p>Thanks for signing up for {{.Product}}. Complete your purchase to unlock your download.</p>`),
	KindConfirmed: mustMessage("Your %s subscription is active",
		`<p>Your subscription is confirmed. Your {{.Platform}} download is ready in your account.</p>`),
	KindPaymentFailed: mustMessage("%s payment failed",
		`<p>We couldn't process your latest payment{{with .Data.reason}}: {{.}}{{end}}. Please update your payment method to keep access.</p>`),
	KindCancelled: mustMessage("Your %s subscription has ended",
		`<p>Your subscription is now cancelled. You can resubscribe at any time.</p>`),
	KindCancellationScheduled: mustMessage("Your %s subscription will end soon",
		`<p>Your subscription is scheduled to cancel at the end of the current billing period{{with .Data.period_end}} on {{.}}{{end}}. You keep full access until then.</p>`),
	KindExpiringSoon: mustMessage("Your %s access expires soon",
		`<p>Your subscription ends{{with .Data.period_end}} on {{.}}{{end}}. Reactivate to keep access to updates and downloads.</p>`),
	KindDownloadReady: mustMessage("Your %s download is ready",
		`<p>Your {{.Platform}} build is ready. The download link is valid for one use and expires in an hour{{with .Data.expires_at}} (at {{.}}){{end}}.</p>`),
}
