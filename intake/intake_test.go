package intake

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"at least ten chars!", "at least ten chars!"},
		{"  Jo  ", "Jo"},
		{"Tom & Jerry <3", "Tom & Jerry <3"},
		{"<b>bold</b> move", "bold move"},
		{"Hi <script>alert(1)</script>there", "Hi alert(1)there"},
		{`<a href="javascript:x()">click</a>`, "click"},
		{"&lt;script&gt;alert(1)&lt;/script&gt;", "alert(1)"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Sanitize(tt.in); got != tt.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeMapNested(t *testing.T) {
	in := map[string]any{
		"label": "<i>Pricing</i>",
		"count": 3.0,
		"tags":  []any{"<b>a</b>", 1.0},
		"inner": map[string]any{"x": "<p>y</p>"},
	}
	out := SanitizeMap(in)
	if out["label"] != "Pricing" || out["count"] != 3.0 {
		t.Fatalf("unexpected map: %v", out)
	}
	if tags := out["tags"].([]any); tags[0] != "a" || tags[1] != 1.0 {
		t.Fatalf("unexpected tags: %v", tags)
	}
	if inner := out["inner"].(map[string]any); inner["x"] != "y" {
		t.Fatalf("unexpected inner: %v", inner)
	}
}

func TestIsEmail(t *testing.T) {
	valid := []string{"a@b.co", "Jo.Smith+tag@Example.COM", "x@sub.domain.io"}
	invalid := []string{"", "a@b", "a@b.c", "a b@c.de", "@b.co", "a@.co1", "a@@b.co"}
	for _, s := range valid {
		if !IsEmail(s) {
			t.Errorf("IsEmail(%q) = false", s)
		}
	}
	for _, s := range invalid {
		if IsEmail(s) {
			t.Errorf("IsEmail(%q) = true", s)
		}
	}
}

func TestValidator(t *testing.T) {
	v := &Validator{}
	v.Required("name", "")
	v.Email("email", "nope")
	v.MinLen("message", "short", 10)
	v.OneOf("event_type", "page_view", []string{"page_view"})
	v.OneOf("kind", "other", []string{"a", "b"})

	err := v.Err()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	want := []string{
		"name is required",
		"email must be a valid email address",
		"message must be at least 10 characters",
		"kind must be one of: a, b",
	}
	if strings.Join(verr.Details, "|") != strings.Join(want, "|") {
		t.Fatalf("details = %q, want %q", verr.Details, want)
	}

	if (&Validator{}).Err() != nil {
		t.Fatal("expected nil error from an empty validator")
	}
}

type item struct {
	Type string `json:"type"`
}

func TestDecodeBatch(t *testing.T) {
	items, batch, err := DecodeBatch[item](strings.NewReader(`{"type":"a"}`))
	if err != nil || batch || len(items) != 1 || items[0].Type != "a" {
		t.Fatalf("single: %v %v %v", items, batch, err)
	}

	items, batch, err = DecodeBatch[item](strings.NewReader(` [{"type":"a"},{"type":"b"}]`))
	if err != nil || !batch || len(items) != 2 {
		t.Fatalf("array: %v %v %v", items, batch, err)
	}

	for _, body := range []string{"", "{", "[]", `"x"`} {
		if _, _, err := DecodeBatch[item](strings.NewReader(body)); err == nil {
			t.Errorf("DecodeBatch(%q) succeeded", body)
		}
	}
}

func TestValidateBatchPrefixesIndex(t *testing.T) {
	items := []item{{Type: "a"}, {Type: ""}, {Type: "zzz"}}
	check := func(it item, v *Validator) { v.OneOf("type", it.Type, []string{"a"}) }

	err := ValidateBatch(items, true, check)
	var verr *ValidationError
	if !errors.As(err, &verr) || len(verr.Details) != 2 {
		t.Fatalf("err = %v", err)
	}
	if !strings.HasPrefix(verr.Details[0], "Item 1: ") || !strings.HasPrefix(verr.Details[1], "Item 2: ") {
		t.Fatalf("details = %q", verr.Details)
	}

	err = ValidateBatch([]item{{}}, false, check)
	if !errors.As(err, &verr) || verr.Details[0] != "type is required" {
		t.Fatalf("single item details = %v", err)
	}
}

func TestFail(t *testing.T) {
	e := echo.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/contact", nil), rec)
	_ = Fail(c, zap.NewNop(), Invalid("name is required"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var body ErrorResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Error != "Validation failed" || len(body.Details) != 1 {
		t.Fatalf("body = %+v", body)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodPost, "/contact", nil), rec)
	_ = Fail(c, zap.NewNop(), Persistence("insert contact", errors.New("disk I/O error")))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "disk") {
		t.Fatalf("internal detail leaked: %s", rec.Body.String())
	}
	if strings.TrimSpace(rec.Body.String()) != `{"error":"Internal server error"}` {
		t.Fatalf("body = %s", rec.Body.String())
	}
}
