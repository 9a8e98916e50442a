// Package hmac provides an HMAC-SHA256 based CSRF token manager
// with BREACH-resistant random masking and sync.Pool-based allocation reuse.
package hmac

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/romshark/csrfguard"
	"github.com/romshark/csrfguard/modules/csrf"
)

// TokenLen is the length of an encoded token.
const TokenLen = 86 // base64url(32 byte mask + 32 byte masked MAC)

var ErrEmptySecret = errors.New("empty CSRF secret")

var _ csrf.TokenManager = (*TokenManager)(nil)

// TokenManager implements csrf.TokenManager using HMAC-SHA256
// with BREACH-resistant random masking.
type TokenManager struct {
	pool sync.Pool
	rand io.Reader
}

type generationContext struct {
	hmac         hash.Hash
	decodedToken []byte
	issuedAtHex  []byte
	base         []byte
	expectedBase []byte
	mask         []byte
	out          []byte
}

// New creates a new HMAC-SHA256 based TokenManager.
// secret is used as the HMAC key and must not be empty.
func New(secret []byte) (*TokenManager, error) {
	if len(secret) < 1 {
		return nil, ErrEmptySecret
	}
	s := make([]byte, len(secret))
	copy(s, secret)

	tm := &TokenManager{rand: rand.Reader}
	tm.pool.New = func() any {
		return &generationContext{
			hmac:         hmac.New(sha256.New, s),
			decodedToken: make([]byte, 64),
			issuedAtHex:  make([]byte, 16),
			base:         make([]byte, 32),
			expectedBase: make([]byte, 32),
			mask:         make([]byte, 32),
			out:          make([]byte, 64),
		}
	}
	return tm, nil
}

// withCtx derives the per-session base value and invokes fn with pooled buffers.
func (tm *TokenManager) withCtx(
	userID string, sessIssuedAtUnix int64, fn func(*generationContext),
) {
	gc := tm.pool.Get().(*generationContext)
	defer tm.pool.Put(gc)

	gc.hmac.Reset()
	_, _ = gc.hmac.Write([]byte(userID))
	// Separator avoids ambiguity ("ab"+"12" vs "a"+"b12").
	_, _ = gc.hmac.Write([]byte{0})
	// Binds the token to one session, re-authentication invalidates it.
	gc.issuedAtHex = strconv.AppendInt(gc.issuedAtHex[:0], sessIssuedAtUnix, 16)
	_, _ = gc.hmac.Write(gc.issuedAtHex)

	gc.base = gc.hmac.Sum(gc.base[:0])
	fn(gc)
}

// GenerateToken returns the value embedded into forms.
// A fresh random mask is XORed onto the MAC for every call and prepended
// to the result, so the same session never renders the same bytes twice.
func (tm *TokenManager) GenerateToken(
	userID string, sessIssuedAtUnix int64,
) (t string, err error) {
	if sessIssuedAtUnix < 0 {
		return "", csrf.ErrNegativeIssuedAt
	}
	tm.withCtx(userID, sessIssuedAtUnix, func(gc *generationContext) {
		if _, err = io.ReadFull(tm.rand, gc.mask); err != nil {
			err = fmt.Errorf("generating mask: %w", err)
			return
		}
		// [ mask | masked_mac ]
		copy(gc.out, gc.mask)
		for i := range 32 {
			gc.out[32+i] = gc.base[i] ^ gc.mask[i]
		}
		t = base64.RawURLEncoding.EncodeToString(gc.out)
	})
	return t, err
}

// ValidateToken verifies a client-supplied token.
func (tm *TokenManager) ValidateToken(
	userID string, sessIssuedAtUnix int64, token string,
) (ok bool) {
	if len(token) != TokenLen || sessIssuedAtUnix < 0 {
		return false
	}
	tm.withCtx(userID, sessIssuedAtUnix, func(gc *generationContext) {
		n, err := base64.RawURLEncoding.Decode(gc.decodedToken, []byte(token))
		if err != nil || n != 64 {
			return
		}
		mask, enc := gc.decodedToken[:32], gc.decodedToken[32:]
		for i := range 32 {
			gc.expectedBase[i] = enc[i] ^ mask[i]
		}
		ok = subtle.ConstantTimeCompare(gc.expectedBase, gc.base) == 1
	})
	return ok
}

// Verifier returns a verifier accepting tokens generated for userID
// and the session issued at issuedAt.
func (tm *TokenManager) Verifier(userID string, issuedAt time.Time) csrfguard.Verifier {
	return csrf.Verifier(tm, userID, issuedAt)
}
