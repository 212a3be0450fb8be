package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"gopkg.in/gomail.v2"

	"github.com/NMMonteiro/apps4eu-marketplace/internal/logger"
	"github.com/NMMonteiro/apps4eu-marketplace/models"
)

type Message struct {
	To      string
	Subject string
	HTML    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender delivers mail through an authenticated SMTP relay.
type SMTPSender struct {
	from   string
	dialer *gomail.Dialer
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{
		from:   cfg.From,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTML)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", msg.To, err)
	}
	return nil
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, msg Message) error {
	logger.Info("Email not delivered, no mail transport configured", map[string]interface{}{
		"to":      msg.To,
		"subject": msg.Subject,
	})
	return nil
}

var licenseTemplate = template.Must(template.New("license").Parse(`<h1>Thank you for your purchase!</h1>
<p>Product: <strong>{{.ProductName}}</strong></p>
<p>Your License Key: <code>{{.LicenseKey}}</code></p>
<p>Download URL: <a href="{{.DownloadURL}}">Click here to download</a></p>
`))

// LicenseEmail builds the purchase confirmation sent after fulfillment.
func LicenseEmail(to string, product *models.Product, license *models.License, downloadURL string) (Message, error) {
	var body bytes.Buffer
	err := licenseTemplate.Execute(&body, struct {
		ProductName string
		LicenseKey  string
		DownloadURL string
	}{product.Name, license.Key, downloadURL})
	if err != nil {
		return Message{}, fmt.Errorf("failed to render license email: %w", err)
	}

	return Message{
		To:      to,
		Subject: fmt.Sprintf("Your License Key for %s", product.Name),
		HTML:    body.String(),
	}, nil
}

// SignupEmail renders an admin-editable template with the confirmation link.
func SignupEmail(tmpl *models.EmailTemplate, to, link string) Message {
	return Message{
		To:      to,
		Subject: tmpl.Subject,
		HTML:    tmpl.Render(to, link),
	}
}
