// Package demo is a small application demonstrating all CSRF protection
// channels: a double-submit cookie protected login form, a session protected
// logout form and a header-checked endpoint.
package demo

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"

	"github.com/romshark/csrfguard"
	"github.com/romshark/csrfguard/modules/csrf"
	"github.com/romshark/csrfguard/modules/doublesubmit"
	"github.com/romshark/csrfguard/modules/formparser"
	"github.com/romshark/csrfguard/modules/sessmanager"
	"github.com/romshark/csrfguard/modules/tokgen"
)

const MsgHeaderPassed = "You successfully passed the right CSRF token, congrats!"

// Config configures the App.
type Config struct {
	DoubleSubmit *doublesubmit.Manager
	Sessions     sessmanager.SessionManager[sessmanager.Session]

	// SessionTTL is the max age of the session cookie.
	SessionTTL time.Duration

	// TokenManager enables tokens bound to the session, the random
	// token stored in the session is used if nil.
	TokenManager csrf.TokenManager

	Logger   *slog.Logger
	Observer csrfguard.Observer
}

// App serves the demo pages.
type App struct {
	conf     Config
	log      *slog.Logger
	tokens   sessmanager.TokenGenerator
	verifier csrfguard.Extractor[csrfguard.Verifier]
	guard    csrfguard.Extractor[sessmanager.Resolved[sessmanager.Session]]

	parseLogin  csrfguard.Parser[LoginForm]
	parseLogout csrfguard.Parser[LogoutForm]
}

func New(conf Config) *App {
	if conf.Logger == nil {
		conf.Logger = slog.Default()
	}
	a := &App{
		conf:        conf,
		log:         conf.Logger,
		tokens:      tokgen.Generator{Length: tokgen.MinLength},
		guard:       sessmanager.Guard(conf.Sessions, sessmanager.DefaultCookieName),
		parseLogin:  formparser.New[LoginForm](formparser.Config{}),
		parseLogout: formparser.New[LogoutForm](formparser.Config{}),
	}
	if conf.TokenManager != nil {
		a.verifier = csrf.Extractor(conf.TokenManager,
			conf.Sessions, sessmanager.DefaultCookieName)
	} else {
		a.verifier = sessmanager.Extractor(conf.Sessions, sessmanager.DefaultCookieName)
	}
	return a
}

// Handler returns the HTTP handler of the app.
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(a.accessLog)
	r.Use(csrfguard.Middleware(
		csrfguard.WithLogger(a.log),
		csrfguard.WithObserver(a.conf.Observer),
	))
	r.Get("/", a.getIndex)
	r.Post("/", a.postLogin)
	r.Post("/logout", a.postLogout)
	r.With(csrfguard.HeaderCheck(a.verifier)).Get("/header", a.getHeader)
	return r
}

func (a *App) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.log.Info("access",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path))
		next.ServeHTTP(w, r)
	})
}

// getIndex renders the logged-in page if there's a session
// and the login form otherwise.
func (a *App) getIndex(w http.ResponseWriter, r *http.Request) {
	res, err := sessmanager.Resolve(w, r, a.conf.Sessions, sessmanager.DefaultCookieName)
	switch {
	case errors.Is(err, csrfguard.ErrForward):
		token, err := a.conf.DoubleSubmit.Issue(w)
		if err != nil {
			a.internalError(w, r, fmt.Errorf("issuing double-submit token: %w", err))
			return
		}
		a.render(w, r, pageLogin(token))
		return
	case err != nil:
		a.internalError(w, r, err)
		return
	}

	token, err := a.pageToken(res.Session)
	if err != nil {
		a.internalError(w, r, fmt.Errorf("generating csrf token: %w", err))
		return
	}
	a.render(w, r, pageLoggedIn(res.Session.UserID, token))
}

// pageToken returns the token to embed into pages of the session.
func (a *App) pageToken(s sessmanager.Session) (string, error) {
	if a.conf.TokenManager == nil {
		return s.CSRFToken, nil
	}
	return a.conf.TokenManager.GenerateToken(s.UserID, s.IssuedAt.Unix())
}

func (a *App) postLogin(w http.ResponseWriter, r *http.Request) {
	p, err := csrfguard.Protect(w, r, a.conf.DoubleSubmit.Extract, a.parseLogin)
	if err != nil {
		csrfguard.WriteError(w, err)
		return
	}
	f := p.Inner()

	// A real application would check credentials here.
	s, err := sessmanager.NewSession(f.Name, a.tokens, time.Now())
	if err != nil {
		a.internalError(w, r, fmt.Errorf("creating session: %w", err))
		return
	}
	token, err := a.conf.Sessions.CreateSession(r.Context(), f.Name, s)
	if err != nil {
		a.internalError(w, r, fmt.Errorf("storing session: %w", err))
		return
	}
	sessmanager.SetCookie(w, sessmanager.DefaultCookieName, token, a.conf.SessionTTL)
	a.log.Info("logged in", slog.String("user", f.Name))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (a *App) postLogout(w http.ResponseWriter, r *http.Request) {
	p, err := csrfguard.ProtectWithGuard(w, r, a.verifier, a.parseLogout, a.guard)
	if err != nil {
		csrfguard.WriteError(w, err)
		return
	}
	proof, res, _ := p.PartsWithProof()
	err = sessmanager.CloseWithProof(r.Context(), a.conf.Sessions, proof, res.Token)
	if err != nil {
		a.internalError(w, r, fmt.Errorf("closing session: %w", err))
		return
	}
	sessmanager.RemoveCookie(w, sessmanager.DefaultCookieName)
	a.log.Info("logged out", slog.String("user", res.Session.UserID))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (a *App) getHeader(w http.ResponseWriter, r *http.Request) {
	_, _ = fmt.Fprint(w, MsgHeaderPassed)
}

func (a *App) render(w http.ResponseWriter, r *http.Request, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := c.Render(r.Context(), w); err != nil {
		a.log.Error("rendering page", slog.Any("err", err))
	}
}

func (a *App) internalError(w http.ResponseWriter, r *http.Request, err error) {
	a.log.Error("handling request",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Any("err", err))
	csrfguard.WriteError(w, csrfguard.Fail(http.StatusInternalServerError, err))
}
