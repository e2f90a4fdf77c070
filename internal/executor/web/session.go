// Package web drives the remote time-clock site over plain HTTP: it submits
// the login form, finds the check control and submits it.
package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"checktime/internal/calendar"
	"checktime/internal/executor"
	logx "checktime/pkg/logx"

	"golang.org/x/net/html"
)

type Config struct {
	Scheme         string
	BaseDomain     string
	BaseURL        string // overrides scheme/subdomain/domain when set
	PollInterval   time.Duration
	ConfirmText    string
	UserAgent      string
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Scheme == "" {
		c.Scheme = "https"
	}
	if c.BaseDomain == "" {
		c.BaseDomain = "checkjc.com"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.ConfirmText == "" {
		c.ConfirmText = "registrado"
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) checktime"
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 20 * time.Second
	}
	return c
}

// Factory opens one cookie-isolated HTTP session per execution.
type Factory struct {
	cfg       Config
	log       logx.Logger
	transport http.RoundTripper
}

func NewFactory(cfg Config, log logx.Logger) *Factory {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Factory{cfg: cfg.withDefaults(), log: log.With(logx.String("comp", "web"))}
}

// WithTransport returns a copy using rt for every request.
func (f *Factory) WithTransport(rt http.RoundTripper) *Factory {
	cp := *f
	cp.transport = rt
	return &cp
}

func (f *Factory) baseURL(subdomain string) (*url.URL, error) {
	if f.cfg.BaseURL != "" {
		return url.Parse(strings.TrimRight(f.cfg.BaseURL, "/"))
	}
	sub := strings.TrimSpace(subdomain)
	if sub == "" {
		return nil, errors.New("remote subdomain is empty")
	}
	return url.Parse(fmt.Sprintf("%s://%s.%s", f.cfg.Scheme, sub, f.cfg.BaseDomain))
}

func (f *Factory) Open(_ context.Context, creds executor.Credentials) (executor.Session, error) {
	base, err := f.baseURL(creds.Subdomain)
	if err != nil {
		return nil, executor.Fail(executor.LoginError, "account", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Jar: jar, Timeout: f.cfg.RequestTimeout, Transport: f.transport}
	return &session{
		cfg:    f.cfg,
		log:    f.log.With(logx.String("host", base.Host)),
		client: client,
		base:   base,
	}, nil
}

type session struct {
	cfg    Config
	log    logx.Logger
	client *http.Client
	base   *url.URL

	page    *html.Node
	pageURL *url.URL
	landing *url.URL
	control *control
	closed  bool
}

func (s *session) fetch(ctx context.Context, method string, target *url.URL, form url.Values) error {
	var body io.Reader
	u := *target
	if method == http.MethodGet && form != nil {
		u.RawQuery = form.Encode()
	} else if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxPageBytes))
		return &statusError{code: resp.StatusCode, url: u.Redacted()}
	}
	doc, err := parsePage(resp.Body)
	if err != nil {
		return fmt.Errorf("parse %s: %w", u.Redacted(), err)
	}
	s.page = doc
	s.pageURL = resp.Request.URL
	return nil
}

type statusError struct {
	code int
	url  string
}

func (e *statusError) Error() string { return fmt.Sprintf("%s returned HTTP %d", e.url, e.code) }

func (s *session) resolve(ref string) (*url.URL, error) {
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, err
	}
	return s.pageURL.ResolveReference(r), nil
}

func (s *session) Login(ctx context.Context, creds executor.Credentials) error {
	loginURL := s.base.JoinPath("login")
	if err := s.fetch(ctx, http.MethodGet, loginURL, nil); err != nil {
		return loginFailure("open login page", err)
	}
	form := findLoginForm(s.page)
	if form == nil {
		return executor.Fail(executor.LoginError, "login form not found", nil)
	}
	if form.userKey != "" {
		form.values.Set(form.userKey, creds.Username)
	}
	form.values.Set(form.passKey, creds.Password)

	target, err := s.resolve(form.action)
	if err != nil {
		return executor.Fail(executor.LoginError, "bad form action", err)
	}
	if err := s.fetch(ctx, form.method, target, form.values); err != nil {
		return loginFailure("submit login", err)
	}
	if msg, bad := loginError(s.page); bad {
		return executor.Fail(executor.LoginError, msg, nil)
	}
	s.landing = s.pageURL
	s.log.Debug("logged in", logx.Bool("marker", hasPostLoginMarker(s.page)), logx.String("landing", s.landing.Path))
	return nil
}

func loginFailure(what string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return executor.Fail(executor.LoginError, what, err)
}

// pause waits one poll interval or until ctx ends.
func (s *session) pause(ctx context.Context) error {
	t := time.NewTimer(s.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *session) reload(ctx context.Context) error {
	if s.landing == nil {
		return errors.New("not logged in")
	}
	err := s.fetch(ctx, http.MethodGet, s.landing, nil)
	var se *statusError
	if errors.As(err, &se) {
		s.log.Debug("reload failed", logx.Int("status", se.code))
		return nil
	}
	return err
}

func (s *session) AwaitActionReady(ctx context.Context) error {
	for {
		if c := findControl(s.page); c != nil {
			s.control = c
			return nil
		}
		if err := s.pause(ctx); err != nil {
			return err
		}
		if err := s.reload(ctx); err != nil {
			return err
		}
	}
}

func (s *session) Trigger(ctx context.Context, action calendar.Action) error {
	c := s.control
	if c == nil {
		return executor.Fail(executor.ActionNotFound, "no action control", nil)
	}
	if c.action == "" {
		return executor.Fail(executor.ActionNotFound, "action control has no target", nil)
	}
	target, err := s.resolve(c.action)
	if err != nil {
		return executor.Fail(executor.ActionNotFound, "bad control target", err)
	}
	s.log.Debug("triggering", logx.Action(action), logx.String("target", target.Path))
	if err := s.fetch(ctx, c.method, target, c.values); err != nil {
		var se *statusError
		if errors.As(err, &se) {
			return executor.Fail(executor.Unknown, "submit action", err)
		}
		return err
	}
	return nil
}

func (s *session) AwaitConfirmation(ctx context.Context) error {
	for {
		if confirmed(s.page, s.cfg.ConfirmText, s.control) {
			return nil
		}
		if err := s.pause(ctx); err != nil {
			return err
		}
		if err := s.reload(ctx); err != nil {
			return err
		}
	}
}

func (s *session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.client.CloseIdleConnections()
	s.page = nil
	return nil
}
