package redis_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	rdb "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/romshark/csrfguard/modules/sessmanager"
	"github.com/romshark/csrfguard/modules/sessmanager/redis"
	"github.com/romshark/csrfguard/modules/tokgen"
)

func setup(t *testing.T, conf redis.Config) (
	*redis.SessionManager[sessmanager.Session], *miniredis.Miniredis,
) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := rdb.NewClient(&rdb.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redis.New[sessmanager.Session](client, tokgen.Generator{}, conf), mr
}

func cookie(token string) *http.Cookie {
	return &http.Cookie{Name: sessmanager.DefaultCookieName, Value: token}
}

func TestCreateReadClose(t *testing.T) {
	ctx := context.Background()
	m, mr := setup(t, redis.Config{})
	require.NoError(t, m.Ping(ctx))

	s := sessmanager.Session{
		UserID:    "alice",
		CSRFToken: "csrf",
		IssuedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	token, err := m.CreateSession(ctx, "alice", s)
	require.NoError(t, err)

	// The raw token is never stored.
	for _, k := range mr.Keys() {
		require.NotContains(t, k, token)
	}
	require.Equal(t, redis.DefaultTTL, mr.TTL(mr.Keys()[0]))

	got, ok, err := m.ReadSessionFromCookie(ctx, cookie(token))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, s, got)

	require.NoError(t, m.CloseSession(ctx, token))
	_, ok, err = m.ReadSessionFromCookie(ctx, cookie(token))
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.CloseSession(ctx, token))
}

func TestReadSessionFromCookieUnknown(t *testing.T) {
	ctx := context.Background()
	m, _ := setup(t, redis.Config{})

	for name, c := range map[string]*http.Cookie{
		"nil":     nil,
		"empty":   cookie(""),
		"unknown": cookie("does-not-exist"),
	} {
		t.Run(name, func(t *testing.T) {
			_, ok, err := m.ReadSessionFromCookie(ctx, c)
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestReadSessionFromCookieMalformed(t *testing.T) {
	ctx := context.Background()
	m, mr := setup(t, redis.Config{Prefix: "test:"})

	token, err := m.CreateSession(ctx, "alice", sessmanager.Session{UserID: "alice"})
	require.NoError(t, err)
	for _, k := range mr.Keys() {
		if mr.Type(k) == "string" {
			require.NoError(t, mr.Set(k, "{not json"))
		}
	}
	_, ok, err := m.ReadSessionFromCookie(ctx, cookie(token))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReadSessionFromCookieBackendFailure(t *testing.T) {
	ctx := context.Background()
	m, mr := setup(t, redis.Config{})
	token, err := m.CreateSession(ctx, "alice", sessmanager.Session{UserID: "alice"})
	require.NoError(t, err)

	mr.Close()
	_, ok, err := m.ReadSessionFromCookie(ctx, cookie(token))
	require.Error(t, err)
	require.False(t, ok)
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	m, mr := setup(t, redis.Config{TTL: time.Minute})
	token, err := m.CreateSession(ctx, "alice", sessmanager.Session{UserID: "alice"})
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)
	_, ok, err := m.ReadSessionFromCookie(ctx, cookie(token))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCreateSessionEmptyUserID(t *testing.T) {
	m, _ := setup(t, redis.Config{})
	_, err := m.CreateSession(context.Background(), "", sessmanager.Session{})
	require.ErrorIs(t, err, redis.ErrEmptyUserID)
}

func TestCloseAllUserSessions(t *testing.T) {
	ctx := context.Background()
	m, _ := setup(t, redis.Config{})

	var aliceTokens []string
	for range 3 {
		token, err := m.CreateSession(ctx, "alice", sessmanager.Session{UserID: "alice"})
		require.NoError(t, err)
		aliceTokens = append(aliceTokens, token)
	}
	bob, err := m.CreateSession(ctx, "bob", sessmanager.Session{UserID: "bob"})
	require.NoError(t, err)

	// Already closed sessions aren't counted.
	require.NoError(t, m.CloseSession(ctx, aliceTokens[0]))

	closed, err := m.CloseAllUserSessions(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, 2, closed)

	for _, token := range aliceTokens {
		_, ok, err := m.ReadSessionFromCookie(ctx, cookie(token))
		require.NoError(t, err)
		require.False(t, ok)
	}
	_, ok, err := m.ReadSessionFromCookie(ctx, cookie(bob))
	require.NoError(t, err)
	require.True(t, ok)

	closed, err = m.CloseAllUserSessions(ctx, "nobody")
	require.NoError(t, err)
	require.Zero(t, closed)
}
