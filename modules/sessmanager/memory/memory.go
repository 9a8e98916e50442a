// Package memory provides an in-process SessionManager backed by
// a capacity-bounded expirable LRU cache. Sessions don't survive restarts
// and aren't shared between instances, use it for development and tests.
//
// Session tokens are never used as keys directly, the cache is keyed by
// their SHA-256 hash.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/romshark/csrfguard/modules/sessmanager"
)

const (
	DefaultSize = 10_000
	DefaultTTL  = 24 * time.Hour
)

var ErrEmptyUserID = errors.New("userID must not be empty")

// Config configures the session manager.
type Config struct {
	// Size is the maximum number of sessions kept. Defaults to DefaultSize.
	// The least recently used session is evicted when it's exceeded.
	Size int

	// TTL is the session lifetime. Defaults to DefaultTTL.
	TTL time.Duration
}

type entry[S any] struct {
	userID  string
	session S
}

var _ sessmanager.SessionManager[sessmanager.Session] = (*SessionManager[sessmanager.Session])(nil)

// SessionManager manages sessions in memory.
type SessionManager[S any] struct {
	cache *expirable.LRU[string, entry[S]]
	gen   sessmanager.TokenGenerator
}

// New creates a new in-memory session manager.
func New[S any](gen sessmanager.TokenGenerator, conf Config) *SessionManager[S] {
	if conf.Size < 1 {
		conf.Size = DefaultSize
	}
	if conf.TTL <= 0 {
		conf.TTL = DefaultTTL
	}
	return &SessionManager[S]{
		cache: expirable.NewLRU[string, entry[S]](conf.Size, nil, conf.TTL),
		gen:   gen,
	}
}

func (m *SessionManager[S]) ReadSessionFromCookie(
	_ context.Context, c *http.Cookie,
) (session S, ok bool, err error) {
	if c == nil || c.Value == "" {
		return session, false, nil
	}
	e, ok := m.cache.Get(hashKey(c.Value))
	if !ok {
		return session, false, nil
	}
	return e.session, true, nil
}

func (m *SessionManager[S]) CreateSession(
	_ context.Context, userID string, session S,
) (token string, err error) {
	if userID == "" {
		return "", ErrEmptyUserID
	}
	token, err = m.gen.Generate()
	if err != nil {
		return "", err
	}
	m.cache.Add(hashKey(token), entry[S]{userID: userID, session: session})
	return token, nil
}

func (m *SessionManager[S]) CloseSession(_ context.Context, token string) error {
	m.cache.Remove(hashKey(token))
	return nil
}

// CloseAllUserSessions closes all sessions of userID
// and returns the number of sessions closed.
func (m *SessionManager[S]) CloseAllUserSessions(
	_ context.Context, userID string,
) (closed int, err error) {
	if userID == "" {
		return 0, ErrEmptyUserID
	}
	for _, k := range m.cache.Keys() {
		if e, ok := m.cache.Peek(k); ok && e.userID == userID {
			if m.cache.Remove(k) {
				closed++
			}
		}
	}
	return closed, nil
}

// Len returns the number of sessions currently stored.
func (m *SessionManager[S]) Len() int { return m.cache.Len() }

func hashKey(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
