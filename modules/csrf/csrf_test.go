package csrf_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/romshark/csrfguard"
	"github.com/romshark/csrfguard/modules/csrf"
	"github.com/romshark/csrfguard/modules/csrf/hmac"
	"github.com/romshark/csrfguard/modules/sessmanager"
	"github.com/romshark/csrfguard/modules/sessmanager/memory"
	"github.com/romshark/csrfguard/modules/tokgen"
)

func TestExtractor(t *testing.T) {
	ctx := context.Background()
	tm, err := hmac.New([]byte("secret"))
	require.NoError(t, err)

	m := memory.New[sessmanager.Session](tokgen.Generator{}, memory.Config{})
	s, err := sessmanager.NewSession("alice", tokgen.Generator{}, time.Now())
	require.NoError(t, err)
	sessToken, err := m.CreateSession(ctx, "alice", s)
	require.NoError(t, err)

	csrfToken, err := tm.GenerateToken("alice", s.IssuedAt.Unix())
	require.NoError(t, err)

	extract := csrf.Extractor(tm, m, sessmanager.DefaultCookieName)

	tests := map[string]struct {
		cookie     string
		header     string
		wantStatus int
	}{
		"ok":              {sessToken, csrfToken, http.StatusOK},
		"session token":   {sessToken, s.CSRFToken, http.StatusForbidden},
		"no session":      {"", csrfToken, http.StatusForbidden},
		"unknown session": {"stale", csrfToken, http.StatusForbidden},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api", nil)
			r = r.WithContext(csrfguard.WithRequestState(r.Context()))
			if tt.cookie != "" {
				r.AddCookie(&http.Cookie{Name: sessmanager.DefaultCookieName, Value: tt.cookie})
			}
			r.Header.Set(csrfguard.HeaderName, tt.header)

			_, err := csrfguard.CheckHeader(httptest.NewRecorder(), r, extract)
			require.Equal(t, tt.wantStatus, csrfguard.StatusCode(err))
		})
	}
}
