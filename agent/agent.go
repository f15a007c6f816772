// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

const (
	// DefaultGracePeriod is how long before expiry an access token is
	// refreshed.
	DefaultGracePeriod = 30 * time.Second

	// DefaultLoginExpiry is how long a started login waits for its callback.
	DefaultLoginExpiry = 10 * time.Minute
)

// Agent owns the current OAuth2Context of an application.  It starts logins,
// handles their callbacks, refreshes the access token before it expires and
// notifies subscribers of every change.  It's safe for concurrent use.
type Agent struct {
	client      Client
	logger      hclog.Logger
	navigator   Navigator
	store       LoginStateStore
	scopes      []string
	gracePeriod time.Duration
	loginExpiry time.Duration
	now         func() time.Time

	mu          sync.Mutex
	current     OAuth2Context
	session     *Session
	generation  uint64
	timer       *time.Timer
	subscribers map[uint64]func(OAuth2Context)
	nextSubID   uint64
	closed      bool
}

// NewAgent creates a new Agent for the client.  Its context starts as
// NotAuthenticated{ReasonNewSession}.  When no scopes are given, the client's
// configured scopes are used.
//
// Supported options:
//   - WithLogger
//   - WithNavigator
//   - WithLoginStateStore
//   - WithScopes
//   - WithGracePeriod
//   - WithLoginExpiry
//   - WithNow
func NewAgent(c Client, opt ...Option) (*Agent, error) {
	const op = "agent.NewAgent"
	if c == nil {
		return nil, newError(Configuration, op, "client is nil: %w", ErrNilParameter)
	}
	opts := getAgentOpts(opt...)
	switch {
	case opts.withGracePeriod < 0:
		return nil, newError(Configuration, op, "grace period %s is negative: %w", opts.withGracePeriod, ErrInvalidParameter)
	case opts.withLoginExpiry <= 0:
		return nil, newError(Configuration, op, "login expiry %s must be positive: %w", opts.withLoginExpiry, ErrInvalidParameter)
	}
	scopes := opts.withScopes
	if len(scopes) == 0 {
		if s, ok := c.(interface{ Scopes() []string }); ok {
			scopes = s.Scopes()
		}
	}
	store := opts.withLoginStateStore
	if store == nil {
		store = NewMemoryStore(WithNow(opts.withNowFunc))
	}
	return &Agent{
		client:      c,
		logger:      opts.withLogger,
		navigator:   opts.withNavigator,
		store:       store,
		scopes:      scopes,
		gracePeriod: opts.withGracePeriod,
		loginExpiry: opts.withLoginExpiry,
		now:         opts.withNowFunc,
		current:     NotAuthenticated{Reason: ReasonNewSession},
		subscribers: map[uint64]func(OAuth2Context){},
	}, nil
}

// NewFailedAgent returns an Agent whose context is Failed with the error's
// message.  It's what an application shows when it couldn't create its
// Client, for example because discovery failed.
func NewFailedAgent(err error) *Agent {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return &Agent{
		logger:      hclog.NewNullLogger(),
		now:         time.Now,
		current:     Failed{Message: msg},
		subscribers: map[uint64]func(OAuth2Context){},
	}
}

// Current returns the current context.
func (a *Agent) Current() OAuth2Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// Subscribe registers fn to be called with every new context.  fn is called
// once, right away, with the current context.  The returned func removes the
// subscription.
func (a *Agent) Subscribe(fn func(OAuth2Context)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	a.mu.Lock()
	id := a.nextSubID
	a.nextSubID++
	a.subscribers[id] = fn
	current := a.current
	a.mu.Unlock()

	fn(current)
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.subscribers, id)
	}
}

// StartLogin creates a new login attempt, stores its LoginState and navigates
// to the authorization URL, which is also returned.
func (a *Agent) StartLogin(ctx context.Context, redirectURL string, opt ...Option) (string, error) {
	const op = "Agent.StartLogin"
	if err := a.ready(op); err != nil {
		return "", err
	}
	if a.navigator == nil {
		return "", newError(Configuration, op, "navigator is nil: %w", ErrNilParameter)
	}
	lc, err := a.client.MakeLoginContext(a.scopes, redirectURL, opt...)
	if err != nil {
		return "", err
	}
	rec := &LoginRecord{
		State:       lc.State,
		RedirectURL: redirectURL,
		ExpiresAt:   a.now().Add(a.loginExpiry),
	}
	if err := a.store.Put(ctx, lc.CSRFToken, rec); err != nil {
		return "", newError(Internal, op, "unable to store login state: %w", err)
	}
	a.logger.Debug("starting login", "redirect_url", redirectURL)
	if err := a.navigator.NavigateTo(lc.URL); err != nil {
		return lc.URL, newError(Internal, op, "unable to navigate to authorization URL: %w: %w", ErrNavigationFailed, err)
	}
	return lc.URL, nil
}

// HandleCallback completes the login identified by state (the CSRF token).
// On success the context becomes Authenticated; when the exchange fails it
// becomes Failed.  A state that matches no started login is rejected without
// changing the context.  When another transition, such as Logout, happens
// while the code is exchanged, the result is discarded and an error wrapping
// ErrSuperseded is returned with the current context.
func (a *Agent) HandleCallback(ctx context.Context, state, code string) (OAuth2Context, error) {
	const op = "Agent.HandleCallback"
	if err := a.ready(op); err != nil {
		return nil, err
	}
	gen := a.currentGeneration()
	rec, err := a.store.Take(ctx, state)
	if err != nil {
		return a.Current(), newError(LoginResult, op, "%w: %w", ErrInvalidState, err)
	}
	client, err := a.client.SetRedirectURI(rec.RedirectURL)
	if err != nil {
		return a.fail(gen, err)
	}
	authCtx, session, err := client.ExchangeCode(ctx, code, rec.State)
	if err != nil {
		return a.fail(gen, err)
	}
	if !a.transition(gen, authCtx, session) {
		return a.Current(), newError(LoginResult, op, "login result discarded: %w", ErrSuperseded)
	}
	return authCtx, nil
}

// HandleCallbackError records an error response from the provider's
// authorization endpoint.  The login attempt is discarded and the context
// becomes Failed.  A state that matches no started login is rejected without
// changing the context.
func (a *Agent) HandleCallbackError(ctx context.Context, state, errorCode, description string) error {
	const op = "Agent.HandleCallbackError"
	if err := a.ready(op); err != nil {
		return err
	}
	gen := a.currentGeneration()
	msg := errorCode
	if description != "" {
		msg = fmt.Sprintf("%s: %s", errorCode, description)
	}
	if _, err := a.store.Take(ctx, state); err != nil {
		return newError(LoginResult, op, "provider returned %q for an unknown login: %w: %w", msg, ErrInvalidState, err)
	}
	_, err := a.fail(gen, newError(LoginResult, op, "provider returned %q: %w", msg, ErrLoginFailed))
	return err
}

// Refresh exchanges the current refresh token for a new access token.  When
// there's no refresh token, or the exchange fails, the context becomes
// NotAuthenticated{ReasonExpired}.
func (a *Agent) Refresh(ctx context.Context) error {
	const op = "Agent.Refresh"
	if err := a.ready(op); err != nil {
		return err
	}
	a.mu.Lock()
	gen := a.generation
	current, session := a.current, a.session
	a.mu.Unlock()

	auth, ok := current.(Authenticated)
	if !ok {
		return newError(LoginResult, op, "not authenticated (%s): %w", current, ErrMissingRefreshToken)
	}
	rt, ok := auth.RefreshToken()
	if !ok {
		a.transition(gen, NotAuthenticated{Reason: ReasonExpired}, nil)
		return newError(LoginResult, op, "%w", ErrMissingRefreshToken)
	}
	next, nextSession, err := a.client.ExchangeRefreshToken(ctx, rt, session)
	if err != nil {
		a.logger.Warn("unable to refresh access token", "error", err)
		a.transition(gen, NotAuthenticated{Reason: ReasonExpired}, nil)
		return err
	}
	if !a.transition(gen, next, nextSession) {
		return newError(LoginResult, op, "refreshed context discarded: %w", ErrSuperseded)
	}
	return nil
}

// Logout ends the session.  The context becomes NotAuthenticated{ReasonLogout}
// even when the provider logout fails; that error is returned.
func (a *Agent) Logout() error {
	const op = "Agent.Logout"
	if err := a.ready(op); err != nil {
		return err
	}
	err := a.client.Logout()
	a.transition(a.currentGeneration(), NotAuthenticated{Reason: ReasonLogout}, nil)
	return err
}

// Close stops the refresh timer.  A closed agent keeps its last context but
// won't change it again.
func (a *Agent) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.generation++
	a.stopTimer()
}

func (a *Agent) ready(op string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case a.closed:
		return newError(Configuration, op, "%w", ErrClosed)
	case a.client == nil:
		return newError(Configuration, op, "agent failed to initialize: %s: %w", a.current, ErrNilParameter)
	}
	return nil
}

func (a *Agent) currentGeneration() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.generation
}

// fail moves to Failed, unless another transition happened since gen.  Either
// way it returns the resulting context and err.
func (a *Agent) fail(gen uint64, err error) (OAuth2Context, error) {
	failed := Failed{Message: err.Error()}
	if !a.transition(gen, failed, nil) {
		return a.Current(), err
	}
	return failed, err
}

// transition replaces the context and session, as long as no other
// transition happened since gen was read, and reports whether it did.
// Subscribers are called after the lock is released.
func (a *Agent) transition(gen uint64, next OAuth2Context, session *Session) bool {
	a.mu.Lock()
	if a.closed || gen != a.generation {
		a.mu.Unlock()
		a.logger.Debug("discarding stale transition", "context", next)
		return false
	}
	a.generation++
	a.current = next
	a.session = session
	a.stopTimer()
	a.scheduleExpiry(a.generation, next)
	subscribers := make([]func(OAuth2Context), 0, len(a.subscribers))
	for _, fn := range a.subscribers {
		subscribers = append(subscribers, fn)
	}
	a.mu.Unlock()

	a.logger.Trace("context changed", "context", next)
	for _, fn := range subscribers {
		fn(next)
	}
	return true
}

// scheduleExpiry must be called with the lock held.
func (a *Agent) scheduleExpiry(gen uint64, c OAuth2Context) {
	auth, ok := c.(Authenticated)
	if !ok {
		return
	}
	expires, ok := auth.Expires()
	if !ok {
		return
	}
	_, canRefresh := auth.RefreshToken()
	d := expires.Sub(a.now())
	if canRefresh {
		d -= a.gracePeriod
	}
	if d < 0 {
		d = 0
	}
	a.timer = time.AfterFunc(d, func() { a.onExpiry(gen, canRefresh) })
}

func (a *Agent) onExpiry(gen uint64, canRefresh bool) {
	if a.currentGeneration() != gen {
		return
	}
	if !canRefresh {
		a.logger.Debug("access token expired")
		a.transition(gen, NotAuthenticated{Reason: ReasonExpired}, nil)
		return
	}
	if err := a.Refresh(context.Background()); err != nil {
		a.logger.Debug("refresh on expiry failed", "error", err)
	}
}

func (a *Agent) stopTimer() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// agentOptions is the set of available options
type agentOptions struct {
	withLogger          hclog.Logger
	withNavigator       Navigator
	withLoginStateStore LoginStateStore
	withScopes          []string
	withGracePeriod     time.Duration
	withLoginExpiry     time.Duration
	withNowFunc         func() time.Time
}

// agentDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func agentDefaults() agentOptions {
	return agentOptions{
		withLogger:      hclog.NewNullLogger(),
		withGracePeriod: DefaultGracePeriod,
		withLoginExpiry: DefaultLoginExpiry,
		withNowFunc:     time.Now,
	}
}

// getAgentOpts gets the defaults and applies the opt overrides passed in.
func getAgentOpts(opt ...Option) agentOptions {
	opts := agentDefaults()
	ApplyOpts(&opts, opt...)
	if opts.withLogger == nil {
		opts.withLogger = hclog.NewNullLogger()
	}
	if opts.withNowFunc == nil {
		opts.withNowFunc = time.Now
	}
	return opts
}

// WithLoginStateStore provides an optional LoginStateStore.  The default is a
// MemoryStore.
//
// Valid for: NewAgent
func WithLoginStateStore(s LoginStateStore) Option {
	return func(o interface{}) {
		if o, ok := o.(*agentOptions); ok {
			o.withLoginStateStore = s
		}
	}
}

// WithGracePeriod provides how long before expiry the access token is
// refreshed.
//
// Valid for: NewAgent
func WithGracePeriod(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*agentOptions); ok {
			o.withGracePeriod = d
		}
	}
}

// WithLoginExpiry provides how long a started login waits for its callback.
//
// Valid for: NewAgent
func WithLoginExpiry(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*agentOptions); ok {
			o.withLoginExpiry = d
		}
	}
}
