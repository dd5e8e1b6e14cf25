package auth

import (
	"errors"
	"io"
	"strings"

	"github.com/pkg/browser"
)

// BrowserOpener launches a URL in the user's browser.
type BrowserOpener func(url string) error

func init() {
	// the launched process must not write into the prompt stream
	browser.Stdout = io.Discard
	browser.Stderr = io.Discard
}

// OpenBrowser opens target in the default browser. Callers treat a failure
// as non-fatal since the URL is printed as well.
func OpenBrowser(target string) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return errors.New("empty url")
	}
	return browser.OpenURL(target)
}
