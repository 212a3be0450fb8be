package email

import (
	"context"
	"strings"
	"testing"

	"github.com/NMMonteiro/apps4eu-marketplace/models"
)

func TestLicenseEmail(t *testing.T) {
	product := &models.Product{ID: "prod-1", Name: "Standard License"}
	license := &models.License{Key: "A4EU-AAAA-BBBB-CCCC-DDDD"}

	msg, err := LicenseEmail("buyer@example.com", product, license, "https://apps4eu.eu/download/prod-1")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if msg.To != "buyer@example.com" {
		t.Errorf("Expected recipient buyer@example.com, got %s", msg.To)
	}
	if msg.Subject != "Your License Key for Standard License" {
		t.Errorf("Unexpected subject: %s", msg.Subject)
	}
	for _, want := range []string{"A4EU-AAAA-BBBB-CCCC-DDDD", "https://apps4eu.eu/download/prod-1", "<strong>Standard License</strong>"} {
		if !strings.Contains(msg.HTML, want) {
			t.Errorf("Expected body to contain %q, got %s", want, msg.HTML)
		}
	}
}

func TestLicenseEmail_EscapesProductName(t *testing.T) {
	product := &models.Product{Name: `<script>alert(1)</script>`}
	license := &models.License{Key: "A4EU-KEY"}

	msg, err := LicenseEmail("buyer@example.com", product, license, "https://apps4eu.eu/download/x")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if strings.Contains(msg.HTML, "<script>") {
		t.Errorf("Expected product name to be escaped, got %s", msg.HTML)
	}
}

func TestSignupEmail(t *testing.T) {
	tmpl := &models.EmailTemplate{
		Subject: "Confirm",
		Body:    `<p>{{email}}</p><a href="{{link}}">go</a>`,
	}

	msg := SignupEmail(tmpl, "new@example.com", "https://apps4eu.eu/auth/confirm?token_hash=abc")

	if msg.Subject != "Confirm" {
		t.Errorf("Expected subject Confirm, got %s", msg.Subject)
	}
	if !strings.Contains(msg.HTML, "new@example.com") || !strings.Contains(msg.HTML, "token_hash=abc") {
		t.Errorf("Expected placeholders replaced, got %s", msg.HTML)
	}
}

func TestLogSender(t *testing.T) {
	if err := (LogSender{}).Send(context.Background(), Message{To: "a@example.com", Subject: "x"}); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}

func TestSMTPSender_CanceledContext(t *testing.T) {
	sender := NewSMTPSender(SMTPConfig{Host: "localhost", Port: 2525, From: "noreply@apps4eu.eu"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sender.Send(ctx, Message{To: "a@example.com"}); err == nil {
		t.Error("Expected error for canceled context")
	}
}
