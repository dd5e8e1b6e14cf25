package auth

import (
	"errors"
	"net/url"
	"strings"
	"testing"
)

func TestAuthCodeURLHasExactlyFourParams(t *testing.T) {
	provider := DefaultConfig().Provider
	creds := Credentials{
		ClientID:     "abc 123&x=y",
		ClientSecret: "never-in-url",
		RedirectURI:  "https://stats.example.com/callback?from=spotify",
	}
	scopes := []string{"user-top-read", "user-read-recently-played"}

	raw := AuthCodeURL(provider, creds, scopes)

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if got := u.Scheme + "://" + u.Host + u.Path; got != DefaultAuthURL {
		t.Fatalf("base url = %q, want %q", got, DefaultAuthURL)
	}

	q := u.Query()
	if len(q) != 4 {
		t.Fatalf("expected 4 query parameters, got %d: %v", len(q), q)
	}
	want := map[string]string{
		"client_id":     creds.ClientID,
		"response_type": "code",
		"redirect_uri":  creds.RedirectURI,
		"scope":         "user-top-read user-read-recently-played",
	}
	for key, val := range want {
		if got := q.Get(key); got != val {
			t.Fatalf("%s = %q, want %q", key, got, val)
		}
	}
	if strings.Contains(raw, "never-in-url") {
		t.Fatalf("client secret leaked into authorization url: %s", raw)
	}
}

func TestAuthCodeURLEncoding(t *testing.T) {
	creds := Credentials{ClientID: "cid", RedirectURI: "http://127.0.0.1:8888/callback"}

	raw := AuthCodeURL(DefaultConfig().Provider, creds, DefaultScopes)

	for _, part := range []string{
		"client_id=cid",
		"response_type=code",
		"redirect_uri=http%3A%2F%2F127.0.0.1%3A8888%2Fcallback",
		"scope=user-read-currently-playing+user-read-recently-played+user-top-read",
	} {
		if !strings.Contains(raw, part) {
			t.Fatalf("expected %q in %s", part, raw)
		}
	}
	if strings.Contains(raw, "state=") {
		t.Fatalf("unexpected state parameter in %s", raw)
	}
}

func TestExtractCode(t *testing.T) {
	tests := map[string]string{
		"https://app.example.com/callback?code=ABC123&state=xyz": "ABC123",
		"https://app.example.com/callback?code=ABC123":           "ABC123",
		"code=ABC123&state=xyz":                                  "ABC123",
		"  https://x/cb?state=s&code=Q-_.9  \n":                  "Q-_.9",
		"https://x/cb?code=AQ%2Bz&other=1":                       "AQ%2Bz",
	}

	for input, want := range tests {
		got, err := ExtractCode(input)
		if err != nil {
			t.Fatalf("ExtractCode(%q) returned error: %v", input, err)
		}
		if got != want {
			t.Fatalf("ExtractCode(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestExtractCodeMissing(t *testing.T) {
	inputs := []string{
		"",
		"https://app.example.com/callback",
		"https://app.example.com/callback?error=access_denied",
		"https://app.example.com/callback?code=&state=xyz",
	}
	for _, input := range inputs {
		if _, err := ExtractCode(input); !errors.Is(err, ErrMissingCode) {
			t.Fatalf("ExtractCode(%q) error = %v, want ErrMissingCode", input, err)
		}
	}
}
