package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"spotoken/auth"
)

const rule = "======================================================================"

type tokenExchanger interface {
	Exchange(ctx context.Context, creds auth.Credentials, code string) (auth.TokenResponse, error)
}

// flow is one pass of: collect credentials, await callback, exchange,
// optionally persist. It is never re-entered.
type flow struct {
	in          *bufio.Reader
	out         io.Writer
	logger      *slog.Logger
	cfg         auth.Config
	exchanger   tokenExchanger
	openBrowser auth.BrowserOpener
	persist     func(path string, creds auth.Credentials, refreshToken string) error
	listen      bool
	verify      bool
}

func (f *flow) run(ctx context.Context) error {
	fmt.Fprintf(f.out, "\n%s\nSPOTIFY REFRESH TOKEN GENERATOR\n%s\n", rule, rule)

	creds, err := f.collectCredentials()
	if err != nil {
		return f.fail(err)
	}

	code, err := f.awaitCode(ctx, creds)
	if err != nil {
		return f.fail(err)
	}
	fmt.Fprintf(f.out, "\n✓ Authorization code extracted: %s...\n", code[:min(20, len(code))])

	fmt.Fprintln(f.out, "\n4. Exchanging authorization code for tokens...")
	tokens, err := f.exchanger.Exchange(ctx, creds, code)
	if err != nil {
		return f.fail(err)
	}
	f.logger.Info("exchange.success", "token_type", tokens.TokenType, "expires_in", tokens.ExpiresIn, "scope", tokens.Scope)

	f.printTokens(creds, tokens)

	if f.verify {
		f.verifyToken(ctx, tokens)
	}

	return f.offerPersist(creds, tokens.RefreshToken)
}

func (f *flow) collectCredentials() (auth.Credentials, error) {
	saved, err := auth.ReadEnvFile(f.cfg.EnvFile)
	if err != nil {
		f.logger.Warn("env.read_failed", "path", f.cfg.EnvFile, "error", err)
	}

	var creds auth.Credentials
	creds.ClientID, err = askRequired(f.in, f.out, "Enter your SPOTIFY_CLIENT_ID", firstNonEmpty(saved.ClientID, f.cfg.ClientID), false)
	if err != nil {
		return auth.Credentials{}, err
	}
	creds.ClientSecret, err = askRequired(f.in, f.out, "Enter your SPOTIFY_SECRET_ID", saved.ClientSecret, true)
	if err != nil {
		return auth.Credentials{}, err
	}
	creds.RedirectURI, err = askRequired(f.in, f.out, "Enter your callback URL (e.g., https://example.vercel.app/callback)", f.cfg.RedirectURI, false)
	if err != nil {
		return auth.Credentials{}, err
	}
	if err := auth.ValidateRedirectURI(creds.RedirectURI); err != nil {
		return auth.Credentials{}, err
	}
	return creds, nil
}

func (f *flow) awaitCode(ctx context.Context, creds auth.Credentials) (string, error) {
	var cs *auth.CallbackServer
	if f.listen {
		var err error
		cs, err = auth.NewCallbackServer(creds.RedirectURI, f.logger)
		if err != nil {
			return "", err
		}
		cs.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = cs.Shutdown(stopCtx)
		}()
	}

	authURL := auth.AuthCodeURL(f.cfg.Provider, creds, f.cfg.Scopes)
	f.logger.Debug("authorize.url", "url", authURL)

	fmt.Fprintln(f.out, "\n1. Opening Spotify authorization page in your browser...")
	fmt.Fprintf(f.out, "\n   If it doesn't open automatically, visit:\n   %s\n\n", authURL)
	if f.openBrowser != nil {
		if err := f.openBrowser(authURL); err != nil {
			f.logger.Warn("browser.open_failed", "error", err)
		}
	}

	if cs != nil {
		fmt.Fprintf(f.out, "2. Waiting for the redirect on %s ...\n", creds.RedirectURI)
		waitCtx, cancel := context.WithTimeout(ctx, f.cfg.CallbackTimeoutDuration())
		defer cancel()
		return cs.Wait(waitCtx)
	}

	fmt.Fprintln(f.out, "2. After authorizing, you'll be redirected to your callback URL.")
	fmt.Fprintln(f.out, "   The URL will look like:")
	fmt.Fprintf(f.out, "   %s?code=AQD...xyz\n", creds.RedirectURI)
	fmt.Fprintln(f.out, "\n3. Copy the ENTIRE URL from your browser address bar and paste it below:")

	fmt.Fprint(f.out, "\nPaste the full callback URL here: ")
	pasted, err := readLine(f.in)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read callback url: %w", err)
	}
	return auth.ExtractCode(pasted)
}

func (f *flow) printTokens(creds auth.Credentials, t auth.TokenResponse) {
	fmt.Fprintf(f.out, "\n%s\nSUCCESS! Here are your tokens:\n%s\n", rule, rule)
	fmt.Fprintf(f.out, "\nAccess Token (expires in 1 hour):\n%s\n", t.AccessToken)
	fmt.Fprintf(f.out, "\n\nRefresh Token (use this in your .env file):\n%s\n", t.RefreshToken)
	fmt.Fprintf(f.out, "\n\nToken Type: %s\n", t.TokenType)
	fmt.Fprintf(f.out, "Expires In: %d seconds\n", t.ExpiresIn)
	fmt.Fprintf(f.out, "Scope: %s\n", t.Scope)

	fmt.Fprintf(f.out, "\n%s\nADD THIS TO YOUR ENVIRONMENT VARIABLES:\n%s\n", rule, rule)
	fmt.Fprintf(f.out, "\n%s=%s\n", auth.EnvClientID, creds.ClientID)
	fmt.Fprintf(f.out, "%s=%s\n", auth.EnvClientSecret, creds.ClientSecret)
	fmt.Fprintf(f.out, "%s=%s\n", auth.EnvRefreshToken, t.RefreshToken)
	fmt.Fprintf(f.out, "\n%s\n", rule)
}

func (f *flow) verifyToken(ctx context.Context, t auth.TokenResponse) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.HTTPTimeoutDuration())
	defer cancel()

	profile, err := auth.FetchProfile(ctx, f.cfg.Provider.APIURL, t.OAuth2Token())
	if err != nil {
		f.logger.Warn("verify.failed", "api_url", f.cfg.Provider.APIURL, "error", err)
		fmt.Fprintf(f.out, "\n! Could not confirm the access token: %v\n", err)
		return
	}
	fmt.Fprintf(f.out, "\n✓ Access token works for Spotify account %s (%s)\n", profile.ID, profile.DisplayName)
}

func (f *flow) offerPersist(creds auth.Credentials, refreshToken string) error {
	fmt.Fprintf(f.out, "\nDo you want to save these to %s file? (y/n): ", f.cfg.EnvFile)
	answer, err := readLine(f.in)
	if err != nil && !errors.Is(err, io.EOF) {
		return f.fail(fmt.Errorf("read confirmation: %w", err))
	}

	switch strings.ToLower(answer) {
	case "y", "yes":
	default:
		f.logger.Info("persist.skipped", "path", f.cfg.EnvFile)
		fmt.Fprintln(f.out, "\nNot saved.")
		return nil
	}

	if err := f.persist(f.cfg.EnvFile, creds, refreshToken); err != nil {
		return f.fail(err)
	}
	f.logger.Info("persist.done", "path", f.cfg.EnvFile)
	fmt.Fprintf(f.out, "\n✓ Saved to %s file!\n", f.cfg.EnvFile)
	return nil
}

// fail prints the single diagnostic for err and marks it as reported.
func (f *flow) fail(err error) error {
	f.logger.Error("run.failed", "error", err)

	var statusErr *auth.StatusError
	switch {
	case errors.Is(err, auth.ErrMissingCode):
		fmt.Fprintln(f.out, "\n✗ Error: No 'code' parameter found in the URL.")
		fmt.Fprintln(f.out, "Make sure you copied the COMPLETE URL after authorization.")
	case errors.As(err, &statusErr):
		fmt.Fprintf(f.out, "Error: %d\n", statusErr.StatusCode)
		fmt.Fprintln(f.out, statusErr.Body)
		fmt.Fprintln(f.out, "\n✗ Failed to get tokens. Check your credentials and try again.")
	default:
		fmt.Fprintf(f.out, "\n✗ Error: %v\n", err)
	}
	return fmt.Errorf("%w: %w", errFlowFailed, err)
}

func ask(reader *bufio.Reader, out io.Writer, prompt, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(out, "%s [%s]: ", prompt, def)
	} else {
		fmt.Fprintf(out, "%s: ", prompt)
	}
	input, err := readLine(reader)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	if input == "" {
		return strings.TrimSpace(def), nil
	}
	return input, nil
}

// askRequired re-prompts until a value is given. A saved default is
// accepted with Enter; secret defaults are shown masked.
func askRequired(reader *bufio.Reader, out io.Writer, prompt, def string, secret bool) (string, error) {
	for {
		if def != "" {
			shown := def
			if secret {
				shown = maskSecret(def)
			}
			fmt.Fprintf(out, "%s [%s]: ", prompt, shown)
		} else {
			fmt.Fprintf(out, "%s: ", prompt)
		}
		input, err := readLine(reader)
		if input == "" {
			input = def
		}
		if input != "" {
			return input, nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", fmt.Errorf("%s: input closed before a value was entered", prompt)
			}
			return "", err
		}
		fmt.Fprintln(out, "This value is required. Please enter a value.")
	}
}

// readLine returns the next trimmed line. A final line without newline is
// returned with a nil error.
func readLine(reader *bufio.Reader) (string, error) {
	input, err := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if err != nil && errors.Is(err, io.EOF) && input != "" {
		return input, nil
	}
	return input, err
}

func maskSecret(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + "..." + s[len(s)-4:]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
