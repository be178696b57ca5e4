package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auth-platform/backend/internal/security"
)

type staticToken string

func (s staticToken) Issue() (string, error) { return string(s), nil }

type failingToken struct{}

func (failingToken) Issue() (string, error) { return "", errors.New("no secret") }

func newTestClient(url string, tokens TokenSource) *Client {
	c := NewClient(url, tokens, time.Second)
	c.backoff = func() retry.Backoff {
		return retry.WithMaxRetries(2, retry.NewConstant(time.Millisecond))
	}
	return c
}

func TestRegister_PostsWithServiceToken(t *testing.T) {
	var got Registration
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/account", r.URL.Path)
		assert.Equal(t, "Bearer svc-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	reg := Registration{Username: "alice", Email: "alice@x.com", Password: "$2a$hash", RequestID: "r1", EmailVerified: true}
	require.NoError(t, newTestClient(srv.URL+"/", staticToken("svc-token")).Register(context.Background(), reg))
	assert.Equal(t, reg, got)
}

func TestRegister_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	require.NoError(t, newTestClient(srv.URL, staticToken("t")).Register(context.Background(), Registration{}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestRegister_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "username, email and password required", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL, staticToken("t")).Register(context.Background(), Registration{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestRegister_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL, staticToken("t")).Register(context.Background(), Registration{})
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRegister_TokenFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected without a token")
	}))
	defer srv.Close()

	err := newTestClient(srv.URL, failingToken{}).Register(context.Background(), Registration{})
	assert.Error(t, err)
}

func TestRegister_ServiceTokenClaims(t *testing.T) {
	secret := []byte("service-secret")
	var claims security.Claims
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := security.BearerToken(r.Header.Get("Authorization"))
		assert.True(t, ok)
		_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) { return secret, nil },
			jwt.WithValidMethods([]string{"HS256"}))
		assert.NoError(t, err)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	issuer := security.NewServiceTokenIssuer(secret, "auth-service", time.Minute)
	require.NoError(t, newTestClient(srv.URL, issuer).Register(context.Background(), Registration{Username: "bob"}))
	assert.Equal(t, security.TokenTypeService, claims.TokenType)
	assert.Equal(t, "service", claims.Role)
	assert.Equal(t, "auth-service", claims.ServiceName)
}
