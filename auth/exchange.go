package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const maxTokenResponseBytes = 1 << 20

// TokenResponse is the token endpoint payload of a successful code exchange.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
}

// OAuth2Token converts the response into a token usable with oauth2 clients.
func (t TokenResponse) OAuth2Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
	}
	if t.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	return tok.WithExtra(map[string]any{"scope": t.Scope})
}

// StatusError reports a non-200 answer from the token endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("token endpoint returned status %d: %s", e.StatusCode, e.Body)
}

// Exchanger trades an authorization code for tokens with a single POST.
type Exchanger struct {
	TokenURL   string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewExchanger returns an exchanger bound to tokenURL.
func NewExchanger(tokenURL string, timeout time.Duration, logger *slog.Logger) *Exchanger {
	return &Exchanger{
		TokenURL:   tokenURL,
		HTTPClient: &http.Client{Timeout: timeout},
		Logger:     logger,
	}
}

// Exchange posts the authorization_code grant. The code is single use, so
// there is no retry on any failure.
func (e *Exchanger) Exchange(ctx context.Context, creds Credentials, code string) (TokenResponse, error) {
	if code == "" {
		return TokenResponse{}, ErrMissingCode
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.TokenURL, strings.NewReader(tokenForm(code, creds.RedirectURI)))
	if err != nil {
		return TokenResponse{}, fmt.Errorf("create token request: %w", err)
	}
	req.SetBasicAuth(creds.ClientID, creds.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	e.logger().Info("exchange.start", "token_url", e.TokenURL, "code_prefix", code[:min(8, len(code))])

	client := e.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("call token endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
	if err != nil {
		return TokenResponse{}, fmt.Errorf("read token response: %w", err)
	}

	e.logger().Info("exchange.result", "status", resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		return TokenResponse{}, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var tr TokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return TokenResponse{}, fmt.Errorf("parse token response: %w", err)
	}
	if tr.AccessToken == "" {
		return TokenResponse{}, errors.New("access_token missing in response")
	}
	if tr.RefreshToken == "" {
		return TokenResponse{}, errors.New("refresh_token missing in response")
	}

	return tr, nil
}

func (e *Exchanger) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return e.Logger
}

// tokenForm encodes the grant fields in a fixed order: grant_type, code,
// redirect_uri.
func tokenForm(code, redirectURI string) string {
	var b strings.Builder
	b.WriteString("grant_type=authorization_code")
	b.WriteString("&code=")
	b.WriteString(url.QueryEscape(code))
	b.WriteString("&redirect_uri=")
	b.WriteString(url.QueryEscape(redirectURI))
	return b.String()
}
