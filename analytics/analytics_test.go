package analytics

import "testing"

func TestParseUserAgent(t *testing.T) {
	tests := []struct {
		ua                  string
		browser, os, device string
	}{
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36", "Chrome", "Windows", "Desktop"},
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1", "Safari", "iOS", "Mobile"},
		{"Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X) AppleWebKit/605.1.15 Mobile/15E148", "Other", "iOS", "Tablet"},
		{"Mozilla/5.0 (Linux; Android 14) AppleWebKit/537.36 Chrome/120.0 Mobile Safari/537.36", "Chrome", "Android", "Mobile"},
		{"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0", "Firefox", "Linux", "Desktop"},
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0) AppleWebKit/537.36 Chrome/120.0 Safari/537.36 Edg/120.0", "Edge", "macOS", "Desktop"},
	}
	for _, tt := range tests {
		b, o, d := ParseUserAgent(tt.ua)
		if b != tt.browser || o != tt.os || d != tt.device {
			t.Errorf("ParseUserAgent(%q) = %s/%s/%s, want %s/%s/%s", tt.ua, b, o, d, tt.browser, tt.os, tt.device)
		}
	}
}

func TestIsBot(t *testing.T) {
	if !IsBot("Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)") {
		t.Fatal("expected Googlebot to be a bot")
	}
	if IsBot("Mozilla/5.0 (Windows NT 10.0) Chrome/120.0") {
		t.Fatal("expected Chrome not to be a bot")
	}
}

func TestCleanReferrer(t *testing.T) {
	tests := map[string]string{
		"":                                  "Direct",
		"https://www.google.com/search?q=x": "Google",
		"https://www.linkedin.com/feed/":    "LinkedIn",
		"https://www.example.org/blog/post": "example.org",
		"android-app://com.slack":           "Other",
	}
	for in, want := range tests {
		if got := CleanReferrer(in); got != want {
			t.Errorf("CleanReferrer(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewClientIsStable(t *testing.T) {
	a := NewClient("203.0.113.1", "Mozilla/5.0 (Windows NT 10.0) Chrome/120.0")
	b := NewClient("203.0.113.1", "Mozilla/5.0 (Windows NT 10.0) Chrome/120.0")
	c := NewClient("203.0.113.2", "Mozilla/5.0 (Windows NT 10.0) Chrome/120.0")
	if a.VisitorID != b.VisitorID || a.IPHash != b.IPHash {
		t.Fatal("expected identical requests to share a fingerprint")
	}
	if a.VisitorID == c.VisitorID || a.IPHash == c.IPHash {
		t.Fatal("expected different IPs to get different fingerprints")
	}
	if len(a.IPHash) != 16 || a.IPHash == "203.0.113.1" {
		t.Fatalf("unexpected ip hash %q", a.IPHash)
	}
}
