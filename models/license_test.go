package models

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/NMMonteiro/apps4eu-marketplace/internal/money"
)

var licenseKeyPattern = regexp.MustCompile(`^A4EU(-[0-9A-HJKMNP-TV-Z]{4}){4}$`)

func TestGenerateLicenseKey_Format(t *testing.T) {
	for i := 0; i < 50; i++ {
		key := GenerateLicenseKey()
		if !licenseKeyPattern.MatchString(key) {
			t.Fatalf("Unexpected license key format: %s", key)
		}
	}
}

func TestGenerateLicenseKey_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		key := GenerateLicenseKey()
		if seen[key] {
			t.Fatalf("Duplicate license key generated: %s", key)
		}
		seen[key] = true
	}
}

func TestLicense_IsUsable(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name     string
		license  License
		expected bool
	}{
		{"active lifetime", License{Status: StatusActive}, true},
		{"active not yet expired", License{Status: StatusActive, ExpiresAt: &future}, true},
		{"active but expired", License{Status: StatusActive, ExpiresAt: &past}, false},
		{"expires exactly now", License{Status: StatusActive, ExpiresAt: &now}, false},
		{"suspended", License{Status: StatusSuspended}, false},
		{"inactive", License{Status: StatusInactive, ExpiresAt: &future}, false},
		{"expired status", License{Status: StatusExpired}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.license.IsUsable(now); got != tt.expected {
				t.Errorf("Expected usable=%v, got %v", tt.expected, got)
			}
		})
	}
}

func TestProduct_Validate(t *testing.T) {
	tests := []struct {
		name    string
		product Product
		err     error
	}{
		{"valid lifetime", Product{Name: "Standard License", BillingType: BillingLifetime}, nil},
		{"valid subscription", Product{Name: "Pro", BillingType: BillingSubscription}, nil},
		{"missing name", Product{BillingType: BillingLifetime}, ErrProductNameRequired},
		{"unknown billing type", Product{Name: "X", BillingType: "MONTHLY"}, ErrInvalidBillingType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.product.Validate(); err != tt.err {
				t.Errorf("Expected %v, got %v", tt.err, err)
			}
		})
	}
}

func TestProduct_HasTieredPrices(t *testing.T) {
	p := Product{Price: 1900}
	if p.HasTieredPrices() {
		t.Error("Expected no tiered prices")
	}

	yearly := money.Amount(9900)
	p.Price12m = &yearly
	if !p.HasTieredPrices() {
		t.Error("Expected tiered prices once a 12 month price is set")
	}
}

func TestEmailTemplate_Render(t *testing.T) {
	tmpl := EmailTemplate{
		Slug: "welcome",
		Body: `<p>Hello {{email}}</p><a href="{{link}}">confirm</a>`,
	}

	out := tmpl.Render("ana@example.com", "https://example.com/confirm?t=1")

	if strings.Count(out, "ana@example.com") != 1 {
		t.Errorf("Expected email substituted once, got: %s", out)
	}
	if strings.Count(out, "https://example.com/confirm?t=1") != 1 {
		t.Errorf("Expected link substituted once, got: %s", out)
	}
	if strings.Contains(out, "{{") {
		t.Errorf("Expected no placeholders left, got: %s", out)
	}
}

func TestEmailTemplate_RenderDoesNotRecurse(t *testing.T) {
	tmpl := EmailTemplate{Body: "{{email}}|{{link}}"}

	out := tmpl.Render("{{link}}", "x")
	if out != "{{link}}|x" {
		t.Errorf("Expected substituted values to be left alone, got %q", out)
	}
}

func TestDefaultSignupTemplate(t *testing.T) {
	tmpl := DefaultSignupTemplate()

	if tmpl.Slug != SignupTemplateSlug {
		t.Errorf("Expected slug %s, got %s", SignupTemplateSlug, tmpl.Slug)
	}
	if !strings.Contains(tmpl.Body, PlaceholderLink) {
		t.Error("Default signup body must carry the confirmation link placeholder")
	}
	if tmpl.Subject == "" {
		t.Error("Expected a subject")
	}
}
