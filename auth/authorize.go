package auth

import (
	"errors"
	"strings"

	"golang.org/x/oauth2"
)

// ErrMissingCode is returned when a callback URL carries no authorization code.
var ErrMissingCode = errors.New("no 'code' parameter found in the URL")

// Credentials are the app registration values entered by the user.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// OAuth2Config maps the credentials onto an oauth2 client configuration.
func (c Credentials) OAuth2Config(provider ProviderConfig, scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURI,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   provider.AuthURL,
			TokenURL:  provider.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

// AuthCodeURL renders the authorization request carrying client_id,
// response_type, redirect_uri and scope. No state is sent.
func AuthCodeURL(provider ProviderConfig, creds Credentials, scopes []string) string {
	return creds.OAuth2Config(provider, scopes).AuthCodeURL("")
}

// ExtractCode pulls the authorization code out of a pasted callback URL.
// The value runs from the first "code=" up to the next '&' or the end of
// input. It is returned as-is, without percent-decoding.
func ExtractCode(pasted string) (string, error) {
	_, rest, ok := strings.Cut(strings.TrimSpace(pasted), "code=")
	if !ok {
		return "", ErrMissingCode
	}
	code, _, _ := strings.Cut(rest, "&")
	if code == "" {
		return "", ErrMissingCode
	}
	return code, nil
}
