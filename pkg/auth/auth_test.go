package auth

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func basic(s string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(s))
}

func TestResolve(t *testing.T) {
	defaults := Credentials{Username: "env-user", Password: "env-pass"}

	tests := []struct {
		name     string
		header   string
		defaults Credentials
		expected Credentials
		err      error
	}{
		{
			name:     "basic header wins over defaults",
			header:   basic("alice:secret"),
			defaults: defaults,
			expected: Credentials{Username: "alice", Password: "secret"},
		},
		{
			name:     "password may contain colons",
			header:   basic("alice:se:cr:et"),
			expected: Credentials{Username: "alice", Password: "se:cr:et"},
		},
		{
			name:     "missing password",
			header:   basic("alice:"),
			defaults: defaults,
			err:      ErrInvalidCredentials,
		},
		{
			name:   "missing separator",
			header: basic("alice"),
			err:    ErrInvalidCredentials,
		},
		{
			name:   "missing username",
			header: basic(":secret"),
			err:    ErrInvalidCredentials,
		},
		{
			name:   "not base64",
			header: "Basic !!!",
			err:    ErrInvalidCredentials,
		},
		{
			name:     "no header falls back to defaults",
			defaults: defaults,
			expected: defaults,
		},
		{
			name:     "non basic scheme falls back to defaults",
			header:   "Bearer abc",
			defaults: defaults,
			expected: defaults,
		},
		{
			name: "nothing configured",
			err:  ErrAuthenticationRequired,
		},
		{
			name:     "half configured defaults",
			defaults: Credentials{Username: "env-user"},
			err:      ErrAuthenticationRequired,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if test.header != "" {
				r.Header.Set("Authorization", test.header)
			}

			creds, err := NewResolver(test.defaults).Resolve(r)
			if test.err != nil {
				require.ErrorIs(t, err, test.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, test.expected, creds)
		})
	}
}

func TestMiddleware(t *testing.T) {
	resolver := NewResolver(Credentials{})

	var seen Credentials
	h := Middleware(resolver.Resolve, func(w http.ResponseWriter, r *http.Request, err error) {
		w.WriteHeader(http.StatusUnauthorized)
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", basic("bob:pw"))
	h.ServeHTTP(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, Credentials{Username: "bob", Password: "pw"}, seen)
}

func TestFingerprint(t *testing.T) {
	a := Credentials{Username: "a", Password: "b"}
	require.Equal(t, a.Fingerprint(), Credentials{Username: "a", Password: "b"}.Fingerprint())
	require.NotEqual(t, a.Fingerprint(), Credentials{Username: "a", Password: "c"}.Fingerprint())
	require.Len(t, a.Fingerprint(), 64)
}

func TestBasicAuthRoundTrip(t *testing.T) {
	creds := Credentials{Username: "user", Password: "pa:ss"}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", creds.BasicAuth())

	got, err := NewResolver(Credentials{}).Resolve(req)
	require.NoError(t, err)
	require.Equal(t, creds, got)
}

func TestErrorsWrap(t *testing.T) {
	err := fmt.Errorf("resolving credentials: %w", ErrInvalidCredentials)
	require.ErrorIs(t, err, ErrInvalidCredentials)
	require.EqualError(t, err, "resolving credentials: invalid credentials")
	require.EqualError(t, ErrAuthenticationRequired, "authentication required")
}
