// Package natskv provides a SessionManager based on the NATS Key-Value Store.
//
// Sessions are stored in NATS KV with composite keys
// ({encodedUserID}.{uniqueSessionID}) to enable efficient per-user prefix lookups.
// The cookie value is the composite key encrypted with AES-128-GCM,
// such that the userID is never exposed to the client.
package natskv

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/romshark/csrfguard/modules/sessmanager"
)

// DefaultBucket is the default bucket name.
const DefaultBucket = "CSRFGUARD_SESSIONS"

var (
	ErrUnsafeSessionID       = errors.New("session ID contains NATS-unsafe characters")
	ErrEncryptionKeyLen      = errors.New("encryption key must be exactly 16 bytes")
	ErrEmptyUserID           = errors.New("userID must not be empty")
	ErrEmptySessionID        = errors.New("session ID must not be empty")
	ErrCiphertextTooShort    = errors.New("ciphertext too short")
	ErrMalformedCompositeKey = errors.New("malformed composite key")

	// ErrSessionNotFound is returned when a session is not found in the KV store.
	ErrSessionNotFound = errors.New("session not found")

	ErrAllDecryptionKeysFailed = errors.New("all keys failed")
)

// Config configures the session manager.
type Config struct {
	// EncryptionKey is the 16-byte AES-128 key used to
	// encrypt session tokens stored in cookies. Required.
	EncryptionKey []byte

	// PreviousEncryptionKeys are only used for decrypting existing cookies
	// during key rotation. New cookies are always encrypted with EncryptionKey.
	PreviousEncryptionKeys [][]byte

	// TTL is the session lifetime. Overrides KVConfig.TTL if set.
	TTL time.Duration

	KVConfig nats.KeyValueConfig
}

var _ sessmanager.SessionManager[sessmanager.Session] = (*SessionManager[sessmanager.Session])(nil)

// SessionManager manages sessions backed by NATS KV.
type SessionManager[S any] struct {
	kv    nats.KeyValue
	aeads []cipher.AEAD // [0] is primary
	gen   sessmanager.TokenGenerator
}

// New creates a new NATS Key-Value store backed session manager.
// gen must generate tokens free of NATS subject characters ('.', '*', '>').
func New[S any](
	conn *nats.Conn, gen sessmanager.TokenGenerator, conf Config,
) (*SessionManager[S], error) {
	aeads, err := newAEADs(append([][]byte{conf.EncryptionKey}, conf.PreviousEncryptionKeys...))
	if err != nil {
		return nil, err
	}

	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	kvConfig := conf.KVConfig
	if kvConfig.Bucket == "" {
		kvConfig.Bucket = DefaultBucket
	}
	if conf.TTL > 0 {
		kvConfig.TTL = conf.TTL
	}

	// Get the existing bucket first and only create it if it's missing,
	// CreateKeyValue errors vary across NATS versions.
	kv, err := js.KeyValue(kvConfig.Bucket)
	switch {
	case errors.Is(err, nats.ErrBucketNotFound):
		if kv, err = js.CreateKeyValue(&kvConfig); err != nil {
			return nil, fmt.Errorf("creating new KV bucket: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("opening KV bucket: %w", err)
	}

	return &SessionManager[S]{kv: kv, aeads: aeads, gen: gen}, nil
}

func newAEADs(keys [][]byte) ([]cipher.AEAD, error) {
	aeads := make([]cipher.AEAD, len(keys))
	for i, key := range keys {
		if len(key) != 16 {
			return nil, ErrEncryptionKeyLen
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("creating AES cipher: %w", err)
		}
		if aeads[i], err = cipher.NewGCM(block); err != nil {
			return nil, fmt.Errorf("creating GCM: %w", err)
		}
	}
	return aeads, nil
}

// ReadSessionFromCookie decrypts the cookie value to
// recover the composite KV key and retrieves the session.
func (m *SessionManager[S]) ReadSessionFromCookie(
	_ context.Context, c *http.Cookie,
) (session S, ok bool, err error) {
	if c == nil || c.Value == "" {
		return session, false, nil
	}
	kvKey, err := decrypt(m.aeads, c.Value)
	if err != nil {
		return session, false, nil
	}
	if _, err := parseCompositeKeyUserID(kvKey); err != nil {
		return session, false, nil
	}

	entry, err := m.kv.Get(kvKey)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return session, false, nil
		}
		return session, false, fmt.Errorf("reading session from KV: %w", err)
	}
	if err := json.Unmarshal(entry.Value(), &session); err != nil {
		return session, false, nil
	}
	return session, true, nil
}

// CreateSession stores a new session under the composite key
// {encodedUserID}.{uniqueSessionID} and returns the encrypted key
// for use as a cookie value.
func (m *SessionManager[S]) CreateSession(
	_ context.Context, userID string, session S,
) (token string, err error) {
	if userID == "" {
		return "", ErrEmptyUserID
	}
	sessionID, err := m.gen.Generate()
	switch {
	case err != nil:
		return "", err
	case sessionID == "":
		return "", ErrEmptySessionID
	case strings.ContainsAny(sessionID, ".*>"):
		return "", ErrUnsafeSessionID
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return "", fmt.Errorf("marshaling session data JSON: %w", err)
	}
	kvKey := compositeKey(userID, sessionID)
	if _, err := m.kv.Put(kvKey, payload); err != nil {
		return "", fmt.Errorf("storing session in KV: %w", err)
	}
	if token, err = encrypt(m.aeads[0], kvKey); err != nil {
		return "", fmt.Errorf("encrypting session token: %w", err)
	}
	return token, nil
}

// CloseSession deletes a session from NATS KV.
// No-op and no error if the session doesn't exist.
func (m *SessionManager[S]) CloseSession(_ context.Context, token string) error {
	kvKey, err := decrypt(m.aeads, token)
	if err != nil {
		return fmt.Errorf("decrypting session token: %w", err)
	}
	if err := m.kv.Delete(kvKey); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// CloseAllUserSessions closes all sessions of userID
// and returns the number of sessions closed.
// Only sees sessions that exist at call time,
// sessions created during iteration are not closed.
func (m *SessionManager[S]) CloseAllUserSessions(
	ctx context.Context, userID string,
) (closed int, err error) {
	if userID == "" {
		return 0, ErrEmptyUserID
	}
	watcher, err := m.kv.Watch(encodeUserID(userID)+".*",
		nats.IgnoreDeletes(), nats.MetaOnly(), nats.Context(ctx))
	if err != nil {
		return 0, fmt.Errorf("watching user sessions: %w", err)
	}
	defer func() { _ = watcher.Stop() }()

	var errs []error
	for entry := range watcher.Updates() {
		if entry == nil {
			// End of initial replay.
			break
		}
		if err := m.kv.Delete(entry.Key()); err != nil {
			if !errors.Is(err, nats.ErrKeyNotFound) {
				errs = append(errs, fmt.Errorf("deleting session %q: %w", entry.Key(), err))
			}
			continue
		}
		closed++
	}
	return closed, errors.Join(errs...)
}

// Session retrieves a session by its encrypted token.
func (m *SessionManager[S]) Session(_ context.Context, token string) (session S, err error) {
	kvKey, err := decrypt(m.aeads, token)
	if err != nil {
		return session, fmt.Errorf("decrypting session token: %w", err)
	}
	entry, err := m.kv.Get(kvKey)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return session, ErrSessionNotFound
		}
		return session, fmt.Errorf("getting session: %w", err)
	}
	if err := json.Unmarshal(entry.Value(), &session); err != nil {
		return session, fmt.Errorf("unmarshaling session data JSON: %w", err)
	}
	return session, nil
}

// encodeUserID encodes a userID into a base64url string
// safe for use in NATS KV keys and subject patterns.
func encodeUserID(userID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(userID))
}

// compositeKey builds the NATS KV key: {base64url(userID)}.{sessionID}.
func compositeKey(userID, sessionID string) string {
	return encodeUserID(userID) + "." + sessionID
}

func parseCompositeKeyUserID(kvKey string) (string, error) {
	encoded, sid, ok := strings.Cut(kvKey, ".")
	if !ok || encoded == "" || sid == "" {
		return "", ErrMalformedCompositeKey
	}
	uid, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decoding userID from key: %w", err)
	}
	return string(uid), nil
}

// encrypt seals plaintext with AES-128-GCM, the nonce is prepended.
func encrypt(aead cipher.AEAD, plaintext string) (string, error) {
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(
		aead.Seal(nonce, nonce, []byte(plaintext), nil),
	), nil
}

// decrypt tries each key in order, aeads[0] being the primary one.
func decrypt(aeads []cipher.AEAD, encrypted string) (string, error) {
	data, err := base64.RawURLEncoding.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("decoding base64: %w", err)
	}
	for _, aead := range aeads {
		n := aead.NonceSize()
		if len(data) < n {
			return "", ErrCiphertextTooShort
		}
		if pt, err := aead.Open(nil, data[:n], data[n:], nil); err == nil {
			return string(pt), nil
		}
	}
	return "", ErrAllDecryptionKeysFailed
}
