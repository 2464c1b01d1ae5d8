package httpclient

import (
	"net/url"
	"strings"
	"testing"
)

func TestSanitizeURLRedactsSensitiveParams(t *testing.T) {
	u, _ := url.Parse("https://hub.example/search?q=product&api_key=s3cret&Token=abc")

	got := sanitizeURL(u)
	if strings.Contains(got, "s3cret") || strings.Contains(got, "abc") {
		t.Errorf("sanitized URL still leaks secrets: %s", got)
	}
	if !strings.Contains(got, "q=product") {
		t.Errorf("sanitized URL lost a harmless param: %s", got)
	}
	if !strings.Contains(got, "%5BREDACTED%5D") {
		t.Errorf("sanitized URL missing the redaction marker: %s", got)
	}
}

func TestSanitizeURLNil(t *testing.T) {
	if got := sanitizeURL(nil); got != "" {
		t.Errorf("expected empty string for nil URL, got %q", got)
	}
}

func TestIsSensitiveParam(t *testing.T) {
	for _, param := range []string{"api_key", "API_KEY", "Password", "x-auth-header", "client_secret", "apikey"} {
		if !isSensitiveParam(param) {
			t.Errorf("%q should be sensitive", param)
		}
	}
	for _, param := range []string{"q", "page", "name"} {
		if isSensitiveParam(param) {
			t.Errorf("%q should not be sensitive", param)
		}
	}
}
