package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type callbackResult struct {
	code string
	err  error
}

// CallbackServer answers the redirect URI on a loopback address so the code
// does not have to be pasted by hand.
type CallbackServer struct {
	srv     *http.Server
	lns     []net.Listener
	path    string
	results chan callbackResult
	logger  *slog.Logger
}

// NewCallbackServer binds the host and port of redirectURI. Only plain http
// on a loopback host is accepted. A localhost redirect is served on both
// 127.0.0.1 and ::1 since browsers may resolve it to either.
func NewCallbackServer(redirectURI string, logger *slog.Logger) (*CallbackServer, error) {
	u, err := url.Parse(strings.TrimSpace(redirectURI))
	if err != nil {
		return nil, fmt.Errorf("parse redirect uri: %w", err)
	}
	if u.Scheme != "http" {
		return nil, fmt.Errorf("callback listener needs an http:// redirect uri, got %s", u.Scheme)
	}
	if !IsLoopbackHost(u.Hostname()) {
		return nil, fmt.Errorf("redirect uri host %q is not a loopback address", u.Hostname())
	}

	port := u.Port()
	if port == "" {
		port = "80"
	}
	lns, err := listenLoopback(u.Hostname(), port, logger)
	if err != nil {
		return nil, err
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	cs := &CallbackServer{
		lns:     lns,
		path:    path,
		results: make(chan callbackResult, 1),
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get(path, cs.handleCallback)

	cs.srv = &http.Server{
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return cs, nil
}

// Start serves in the background until Shutdown.
func (cs *CallbackServer) Start() {
	for _, ln := range cs.lns {
		go func(ln net.Listener) {
			if err := cs.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				cs.logger.Error("callback server error", "addr", ln.Addr().String(), "error", err)
			}
		}(ln)
		cs.logger.Info("callback.listening", "addr", ln.Addr().String(), "path", cs.path)
	}
}

// Addr is the address of the first bound listener.
func (cs *CallbackServer) Addr() string {
	return cs.lns[0].Addr().String()
}

// Addrs lists every bound listener address.
func (cs *CallbackServer) Addrs() []string {
	addrs := make([]string, 0, len(cs.lns))
	for _, ln := range cs.lns {
		addrs = append(addrs, ln.Addr().String())
	}
	return addrs
}

// Wait blocks until the first callback arrives or ctx ends.
func (cs *CallbackServer) Wait(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("wait for callback: %w", ctx.Err())
	case res := <-cs.results:
		return res.code, res.err
	}
}

// Shutdown stops the listener.
func (cs *CallbackServer) Shutdown(ctx context.Context) error {
	return cs.srv.Shutdown(ctx)
}

func (cs *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	var res callbackResult
	if reason := r.URL.Query().Get("error"); reason != "" {
		res.err = fmt.Errorf("authorization denied: %s", reason)
	} else {
		res.code, res.err = ExtractCode(r.URL.RawQuery)
	}

	select {
	case cs.results <- res:
	default:
		cs.logger.Warn("callback.ignored", "reason", "result already received")
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if res.err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("Authorization failed: " + res.err.Error() + "\n"))
		return
	}
	_, _ = w.Write([]byte("Authorization received. You can close this page.\n"))
}

// listenLoopback binds host:port. For localhost the IPv4 loopback is
// required and ::1 is added on the same port when the stack supports it.
func listenLoopback(host, port string, logger *slog.Logger) ([]net.Listener, error) {
	if !strings.EqualFold(host, "localhost") {
		addr := net.JoinHostPort(host, port)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("callback address %s unavailable: %w", addr, err)
		}
		return []net.Listener{ln}, nil
	}

	v4Addr := net.JoinHostPort("127.0.0.1", port)
	v4, err := net.Listen("tcp4", v4Addr)
	if err != nil {
		return nil, fmt.Errorf("callback address %s unavailable: %w", v4Addr, err)
	}

	_, boundPort, _ := net.SplitHostPort(v4.Addr().String())
	v6Addr := net.JoinHostPort("::1", boundPort)
	v6, err := net.Listen("tcp6", v6Addr)
	if err != nil {
		logger.Debug("callback.ipv6_skipped", "addr", v6Addr, "error", err)
		return []net.Listener{v4}, nil
	}
	return []net.Listener{v4, v6}, nil
}

// IsLoopbackHost reports whether host names the local machine.
func IsLoopbackHost(host string) bool {
	h := strings.TrimSpace(strings.ToLower(host))
	if h == "localhost" {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
