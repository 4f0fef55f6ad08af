// Package analytics records landing-page analytics: behavioural events,
// conversions and form interactions, each enriched with a privacy-safe
// visitor fingerprint.
package analytics

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
)

// salt holds the per-installation random salt for IP hashing, protected by sync.Once.
var salt struct {
	once  sync.Once
	value string
}

// Settings is the key-value table the salt is persisted in.
type Settings interface {
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error
}

// InitSalt loads or generates a persistent salt for IP hashing.
// Must be called once at startup before any requests are served.
func InitSalt(store Settings) error {
	var initErr error
	salt.once.Do(func() {
		s, err := store.GetSetting("hash_salt")
		if err != nil {
			initErr = fmt.Errorf("read hash salt: %w", err)
			return
		}
		if s == "" {
			b := make([]byte, 32)
			if _, err := rand.Read(b); err != nil {
				initErr = fmt.Errorf("generate salt: %w", err)
				return
			}
			s = hex.EncodeToString(b)
			if err := store.SetSetting("hash_salt", s); err != nil {
				initErr = fmt.Errorf("store hash salt: %w", err)
				return
			}
		}
		salt.value = s
	})
	return initErr
}

func getSalt() string {
	return salt.value
}

// Event types accepted by POST /analytics/events.
const (
	EventPageView            = "page_view"
	EventScrollDepth         = "scroll_depth"
	EventTimeOnPage          = "time_on_page"
	EventCTAClick            = "cta_click"
	EventExitIntentShown     = "exit_intent_shown"
	EventExitIntentDismissed = "exit_intent_dismissed"
	EventExitIntentConverted = "exit_intent_converted"
	EventScarcityViewed      = "scarcity_viewed"
	EventUrgencyViewed       = "urgency_viewed"
	EventVideoPlay           = "video_play"
	EventFAQExpand           = "faq_expand"
	EventPricingView         = "pricing_view"
)

var EventTypes = []string{
	EventPageView, EventScrollDepth, EventTimeOnPage, EventCTAClick,
	EventExitIntentShown, EventExitIntentDismissed, EventExitIntentConverted,
	EventScarcityViewed, EventUrgencyViewed, EventVideoPlay, EventFAQExpand,
	EventPricingView,
}

// Conversion types accepted by POST /analytics/conversions.
const (
	ConversionContactForm      = "contact_form"
	ConversionNewsletterSignup = "newsletter_signup"
	ConversionDemoRequest      = "demo_request"
	ConversionTrialSignup      = "trial_signup"
	ConversionDownload         = "download"
	ConversionPurchase         = "purchase"
)

var ConversionTypes = []string{
	ConversionContactForm, ConversionNewsletterSignup, ConversionDemoRequest,
	ConversionTrialSignup, ConversionDownload, ConversionPurchase,
}

// InteractionTypes are the form interactions accepted by POST /analytics/form.
var InteractionTypes = []string{"focus", "blur", "change", "step_complete", "submit", "abandon", "error"}

// Client describes the requester, derived from headers rather than the body.
type Client struct {
	VisitorID string
	IPHash    string
	Browser   string
	OS        string
	Device    string
	Bot       bool
}

// NewClient fingerprints a request from its IP and User-Agent.
func NewClient(ip, userAgent string) Client {
	browser, os, device := ParseUserAgent(userAgent)
	return Client{
		VisitorID: GenerateVisitorID(ip, userAgent),
		IPHash:    HashIP(ip),
		Browser:   browser,
		OS:        os,
		Device:    device,
		Bot:       IsBot(userAgent),
	}
}

// Event is a behavioural tracking event.
type Event struct {
	ID             string         `json:"id"`
	EventType      string         `json:"event_type"`
	SessionID      string         `json:"session_id,omitempty"`
	Path           string         `json:"path,omitempty"`
	Referrer       string         `json:"referrer,omitempty"`
	ReferrerSource string         `json:"referrer_source,omitempty"`
	Properties     map[string]any `json:"properties,omitempty"`
	Client         Client         `json:"-"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Conversion is a completed goal, optionally with a monetary value.
type Conversion struct {
	ID             string         `json:"id"`
	ConversionType string         `json:"conversion_type"`
	SessionID      string         `json:"session_id,omitempty"`
	Path           string         `json:"path,omitempty"`
	Value          float64        `json:"value,omitempty"`
	Currency       string         `json:"currency,omitempty"`
	Properties     map[string]any `json:"properties,omitempty"`
	Client         Client         `json:"-"`
	CreatedAt      time.Time      `json:"created_at"`
}

// FormInteraction is a single field- or step-level interaction with a form.
type FormInteraction struct {
	ID              string         `json:"id"`
	FormID          string         `json:"form_id"`
	InteractionType string         `json:"interaction_type"`
	FieldName       string         `json:"field_name,omitempty"`
	Step            int            `json:"step,omitempty"`
	SessionID       string         `json:"session_id,omitempty"`
	Path            string         `json:"path,omitempty"`
	Properties      map[string]any `json:"properties,omitempty"`
	Client          Client         `json:"-"`
	CreatedAt       time.Time      `json:"created_at"`
}

// HashIP creates a salted SHA-256 hash of an IP address.
func HashIP(ip string) string {
	h := sha256.New()
	h.Write([]byte(getSalt() + ip))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// GenerateVisitorID creates a salted visitor ID from IP and User-Agent.
func GenerateVisitorID(ip, userAgent string) string {
	h := sha256.New()
	h.Write([]byte(getSalt() + ip + "|" + userAgent))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// ParseUserAgent extracts browser, OS, and device from User-Agent string.
func ParseUserAgent(ua string) (browser, os, device string) {
	ua = strings.ToLower(ua)

	// Order matters: more specific patterns before generic ones.
	switch {
	case strings.Contains(ua, "firefox"):
		browser = "Firefox"
	case strings.Contains(ua, "opera") || strings.Contains(ua, "opr"):
		browser = "Opera"
	case strings.Contains(ua, "edg"):
		browser = "Edge"
	case strings.Contains(ua, "chrome"):
		browser = "Chrome"
	case strings.Contains(ua, "safari"):
		browser = "Safari"
	default:
		browser = "Other"
	}

	// Android before Linux since Android UA contains "linux".
	switch {
	case strings.Contains(ua, "windows"):
		os = "Windows"
	case strings.Contains(ua, "android"):
		os = "Android"
	case strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad"):
		os = "iOS"
	case strings.Contains(ua, "macintosh") || strings.Contains(ua, "mac os"):
		os = "macOS"
	case strings.Contains(ua, "linux"):
		os = "Linux"
	default:
		os = "Other"
	}

	// iPad contains "mobile" in UA, check tablet first.
	switch {
	case strings.Contains(ua, "tablet") || strings.Contains(ua, "ipad"):
		device = "Tablet"
	case strings.Contains(ua, "mobile"):
		device = "Mobile"
	default:
		device = "Desktop"
	}

	return
}

var botMarkers = []string{
	"bot", "crawler", "spider", "crawl", "slurp", "scrape",
	"googlebot", "bingbot", "yandex", "baidu", "duckduckbot",
	"facebookexternalhit", "twitterbot", "linkedinbot",
	"ahrefsbot", "semrushbot", "mj12bot", "dotbot",
}

// IsBot checks if the User-Agent is likely a bot/crawler.
func IsBot(ua string) bool {
	ua = strings.ToLower(ua)
	for _, bot := range botMarkers {
		if strings.Contains(ua, bot) {
			return true
		}
	}
	return false
}

var referrerDomainRegex = regexp.MustCompile(`^https?://(?:www\.)?([^/]+)`)

// CleanReferrer extracts the traffic source from a referrer URL.
func CleanReferrer(ref string) string {
	if ref == "" {
		return "Direct"
	}

	refLower := strings.ToLower(ref)
	switch {
	case strings.Contains(refLower, "google."):
		return "Google"
	case strings.Contains(refLower, "bing."):
		return "Bing"
	case strings.Contains(refLower, "duckduckgo."):
		return "DuckDuckGo"
	case strings.Contains(refLower, "yahoo."):
		return "Yahoo"
	case strings.Contains(refLower, "linkedin."):
		return "LinkedIn"
	case strings.Contains(refLower, "github."):
		return "GitHub"
	}

	matches := referrerDomainRegex.FindStringSubmatch(ref)
	if len(matches) > 1 {
		return matches[1]
	}

	return "Other"
}
