package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrAuthenticationRequired = fmt.Errorf("authentication required")
	ErrInvalidCredentials     = fmt.Errorf("invalid credentials")
)

const basicPrefix = "Basic "

// Credentials are the upstream API credentials a session acts with.
type Credentials struct {
	Username string
	Password string
}

func (c Credentials) Valid() bool {
	return c.Username != "" && c.Password != ""
}

// Fingerprint is a stable, non-reversible key for the credential pair.
func (c Credentials) Fingerprint() string {
	sum := sha256.Sum256([]byte(c.Username + "\x00" + c.Password))
	return hex.EncodeToString(sum[:])
}

// BasicAuth returns the Authorization header value for the credentials.
func (c Credentials) BasicAuth() string {
	return basicPrefix + base64.StdEncoding.EncodeToString([]byte(c.Username+":"+c.Password))
}

// Handler resolves the credentials of an inbound request.
type Handler func(r *http.Request) (Credentials, error)

// Resolver extracts credentials from the Authorization header, falling back to the
// process-wide defaults.
type Resolver struct {
	defaults Credentials
}

func NewResolver(defaults Credentials) *Resolver {
	return &Resolver{defaults: defaults}
}

func (r *Resolver) Resolve(req *http.Request) (Credentials, error) {
	header := req.Header.Get("Authorization")
	if strings.HasPrefix(header, basicPrefix) {
		return decodeBasic(strings.TrimSpace(header[len(basicPrefix):]))
	}

	if !r.defaults.Valid() {
		return Credentials{}, ErrAuthenticationRequired
	}
	return r.defaults, nil
}

func decodeBasic(token string) (Credentials, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return Credentials{}, ErrInvalidCredentials
	}

	username, password, ok := strings.Cut(string(raw), ":")
	creds := Credentials{Username: username, Password: password}
	if !ok || !creds.Valid() {
		return Credentials{}, ErrInvalidCredentials
	}
	return creds, nil
}

type credsKey struct{}

func WithCredentials(ctx context.Context, c Credentials) context.Context {
	return context.WithValue(ctx, credsKey{}, c)
}

func FromContext(ctx context.Context) (Credentials, bool) {
	c, ok := ctx.Value(credsKey{}).(Credentials)
	return c, ok
}

// Middleware resolves credentials once per HTTP request and stores them in the request
// context.  Failures are handed to onErr and the chain stops.
func Middleware(resolve Handler, onErr func(w http.ResponseWriter, r *http.Request, err error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds, err := resolve(r)
			if err != nil {
				onErr(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCredentials(r.Context(), creds)))
		})
	}
}
