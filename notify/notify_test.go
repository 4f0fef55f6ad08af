package notify

import (
	"context"
	"strings"
	"testing"
)

func TestContactHTMLEscapes(t *testing.T) {
	out := ContactHTML(Contact{ID: "01J", Name: "Jo <b>", Email: "a@b.co", Message: "line1\nline2 & more"})
	if strings.Contains(out, "<b>") {
		t.Fatalf("expected name to be escaped: %s", out)
	}
	if !strings.Contains(out, "line1<br>line2 &amp; more") {
		t.Fatalf("unexpected message rendering: %s", out)
	}
	if strings.Contains(out, "Company") {
		t.Fatalf("expected empty company to be omitted: %s", out)
	}
}

func TestContactText(t *testing.T) {
	out := ContactText(Contact{ID: "01J", Name: "Jo", Email: "a@b.co", Company: "Acme", Message: "hello there"})
	for _, want := range []string{"Name: Jo", "Email: a@b.co", "Company: Acme", "hello there", "Reference: 01J"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

func TestNewResendMailerValidates(t *testing.T) {
	if _, err := NewResendMailer(ResendConfig{To: []string{"sales@example.com"}}); err == nil {
		t.Fatal("expected missing api key to fail")
	}
	if _, err := NewResendMailer(ResendConfig{APIKey: "re_test"}); err == nil {
		t.Fatal("expected missing recipients to fail")
	}
	if _, err := NewResendMailer(ResendConfig{APIKey: "re_test", To: []string{"sales@example.com"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNopMailer(t *testing.T) {
	var m Mailer = Nop{}
	if err := m.NotifyContact(context.Background(), Contact{}); err != nil {
		t.Fatalf("Nop returned %v", err)
	}
}
