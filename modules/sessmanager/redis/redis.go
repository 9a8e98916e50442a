// Package redis provides a SessionManager backed by Redis.
//
// Sessions are stored as JSON under {prefix}sess:{sha256(token)} with a TTL.
// The hashes of a user's sessions are tracked in the set {prefix}user:{userID}
// so all sessions of a user can be closed at once.
package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	rdb "github.com/redis/go-redis/v9"

	"github.com/romshark/csrfguard/modules/sessmanager"
)

const (
	DefaultPrefix = "csrfguard:"
	DefaultTTL    = 24 * time.Hour
)

var ErrEmptyUserID = errors.New("userID must not be empty")

// Config configures the session manager.
type Config struct {
	// Prefix is prepended to all keys. Defaults to DefaultPrefix.
	Prefix string

	// TTL is the session lifetime. Defaults to DefaultTTL.
	TTL time.Duration
}

type record[S any] struct {
	UserID  string `json:"userID"`
	Session S      `json:"session"`
}

var _ sessmanager.SessionManager[sessmanager.Session] = (*SessionManager[sessmanager.Session])(nil)

// SessionManager manages sessions backed by Redis.
type SessionManager[S any] struct {
	client rdb.Cmdable
	gen    sessmanager.TokenGenerator
	conf   Config
}

// New creates a new Redis backed session manager.
func New[S any](
	client rdb.Cmdable, gen sessmanager.TokenGenerator, conf Config,
) *SessionManager[S] {
	if conf.Prefix == "" {
		conf.Prefix = DefaultPrefix
	}
	if conf.TTL <= 0 {
		conf.TTL = DefaultTTL
	}
	return &SessionManager[S]{client: client, gen: gen, conf: conf}
}

// Ping checks the connection to Redis.
func (m *SessionManager[S]) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

func (m *SessionManager[S]) ReadSessionFromCookie(
	ctx context.Context, c *http.Cookie,
) (session S, ok bool, err error) {
	if c == nil || c.Value == "" {
		return session, false, nil
	}
	data, err := m.client.Get(ctx, m.sessionKey(hashToken(c.Value))).Bytes()
	if err != nil {
		if errors.Is(err, rdb.Nil) {
			return session, false, nil
		}
		return session, false, fmt.Errorf("reading session from redis: %w", err)
	}
	var r record[S]
	if err := json.Unmarshal(data, &r); err != nil {
		return session, false, nil
	}
	return r.Session, true, nil
}

func (m *SessionManager[S]) CreateSession(
	ctx context.Context, userID string, session S,
) (token string, err error) {
	if userID == "" {
		return "", ErrEmptyUserID
	}
	payload, err := json.Marshal(record[S]{UserID: userID, Session: session})
	if err != nil {
		return "", fmt.Errorf("marshaling session data JSON: %w", err)
	}
	token, err = m.gen.Generate()
	if err != nil {
		return "", err
	}

	h := hashToken(token)
	userKey := m.userKey(userID)
	_, err = m.client.TxPipelined(ctx, func(p rdb.Pipeliner) error {
		p.Set(ctx, m.sessionKey(h), payload, m.conf.TTL)
		p.SAdd(ctx, userKey, h)
		p.Expire(ctx, userKey, m.conf.TTL)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("storing session in redis: %w", err)
	}
	return token, nil
}

func (m *SessionManager[S]) CloseSession(ctx context.Context, token string) error {
	if err := m.client.Del(ctx, m.sessionKey(hashToken(token))).Err(); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// CloseAllUserSessions closes all sessions of userID
// and returns the number of sessions closed.
func (m *SessionManager[S]) CloseAllUserSessions(
	ctx context.Context, userID string,
) (closed int, err error) {
	if userID == "" {
		return 0, ErrEmptyUserID
	}
	userKey := m.userKey(userID)
	hashes, err := m.client.SMembers(ctx, userKey).Result()
	if err != nil {
		return 0, fmt.Errorf("listing user sessions: %w", err)
	}
	keys := make([]string, len(hashes))
	for i, h := range hashes {
		keys[i] = m.sessionKey(h)
	}

	var del *rdb.IntCmd
	_, err = m.client.TxPipelined(ctx, func(p rdb.Pipeliner) error {
		if len(keys) > 0 {
			del = p.Del(ctx, keys...)
		}
		p.Del(ctx, userKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("deleting user sessions: %w", err)
	}
	if del != nil {
		closed = int(del.Val())
	}
	return closed, nil
}

func (m *SessionManager[S]) sessionKey(hash string) string {
	return m.conf.Prefix + "sess:" + hash
}

func (m *SessionManager[S]) userKey(userID string) string {
	return m.conf.Prefix + "user:" + userID
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
