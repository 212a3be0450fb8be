package models

import (
	"strings"
	"time"
)

const (
	SignupTemplateSlug = "signup-confirmation"

	PlaceholderEmail = "{{email}}"
	PlaceholderLink  = "{{link}}"
)

type EmailTemplate struct {
	Slug      string    `json:"slug" db:"slug"`
	Subject   string    `json:"subject" db:"subject"`
	Body      string    `json:"body" db:"body"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Render substitutes the {{email}} and {{link}} placeholders in the body.
// Values are inserted verbatim; the body is admin-authored HTML.
func (t *EmailTemplate) Render(email, link string) string {
	r := strings.NewReplacer(PlaceholderEmail, email, PlaceholderLink, link)
	return r.Replace(t.Body)
}

func DefaultSignupTemplate() EmailTemplate {
	return EmailTemplate{
		Slug:    SignupTemplateSlug,
		Subject: "Confirm your account for Apps4EU Marketplace",
		Body:    defaultSignupBody,
	}
}

const defaultSignupBody = `
<div style="font-family: sans-serif; max-width: 600px; margin: 0 auto; padding: 20px; border: 1px solid #eee; border-radius: 10px;">
  <h1 style="color: #0F172A; font-size: 24px;">Welcome to Apps4EU!</h1>
  <p style="color: #475569; font-size: 16px; line-height: 1.6;">
    Thanks for signing up for the Apps4EU Marketplace. Please click the button below to verify your email address and join our community.
  </p>
  <div style="margin: 30px 0; text-align: center;">
    <a href="{{link}}" style="background-color: #0F172A; color: white; padding: 12px 24px; border-radius: 6px; text-decoration: none; font-weight: bold; display: inline-block;">
      Confirm My Email
    </a>
  </div>
  <hr style="border: 0; border-top: 1px solid #eee; margin: 20px 0;" />
  <p style="color: #94A3B8; font-size: 12px; text-align: center;">
    If you didn't create an account, you can safely ignore this email.
  </p>
</div>
`
