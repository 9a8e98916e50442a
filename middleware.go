package csrfguard

import (
	"log/slog"
	"net/http"
)

// Channel identifies where a verified token came from.
type Channel string

const (
	ChannelForm   Channel = "form"
	ChannelHeader Channel = "header"
)

// Observer receives verification outcomes.
// Implementations must be safe for concurrent use.
type Observer interface {
	OnVerified(r *http.Request, channel Channel)
	OnRejected(r *http.Request, channel Channel, err error)
}

type noopObserver struct{}

func (noopObserver) OnVerified(*http.Request, Channel)        {}
func (noopObserver) OnRejected(*http.Request, Channel, error) {}

// Observers returns an Observer notifying all of obs in order.
func Observers(obs ...Observer) Observer { return observers(obs) }

type observers []Observer

func (o observers) OnVerified(r *http.Request, channel Channel) {
	for _, x := range o {
		x.OnVerified(r, channel)
	}
}

func (o observers) OnRejected(r *http.Request, channel Channel, err error) {
	for _, x := range o {
		x.OnRejected(r, channel, err)
	}
}

type config struct {
	logger   *slog.Logger
	observer Observer
}

var defaultConfig = config{
	logger:   slog.New(slog.DiscardHandler),
	observer: noopObserver{},
}

// Option configures Middleware.
type Option func(*config)

// WithLogger sets the logger verification failures are reported to.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver sets the observer notified of verification outcomes.
func WithObserver(o Observer) Option {
	return func(c *config) {
		if o != nil {
			c.observer = o
		}
	}
}

// Middleware installs the per-request state which proofs are published into.
// Must wrap every handler using Protect, ProtectWithGuard or CheckHeader.
func Middleware(opts ...Option) func(http.Handler) http.Handler {
	conf := defaultConfig
	for _, o := range opts {
		o(&conf)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(withRequestState(r.Context(), &conf)))
		})
	}
}

// RequireProofMiddleware answers 404 to requests for which
// no CSRF check has passed earlier in the chain.
func RequireProofMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := RequireProof(r.Context()); err != nil {
			WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func configFrom(r *http.Request) *config {
	if s := stateFrom(r.Context()); s != nil {
		return s.conf
	}
	return &defaultConfig
}

// succeed publishes the proof and notifies the observer.
func succeed(r *http.Request, channel Channel, p Proof) {
	conf := configFrom(r)
	if !publishProof(r.Context(), p) {
		conf.logger.Warn("csrf check passed without request state, proof not published",
			slog.String("path", r.URL.Path))
	}
	conf.observer.OnVerified(r, channel)
}

// reject logs and reports a failed check. err must never contain token values.
func reject(r *http.Request, channel Channel, err error) {
	conf := configFrom(r)
	conf.logger.Info("csrf check failed",
		slog.String("channel", string(channel)),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Any("err", err))
	conf.observer.OnRejected(r, channel, err)
}
