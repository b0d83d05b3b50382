package repository

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/mintdoi/errors"
	"github.com/teranos/mintdoi/retry"
	"github.com/teranos/mintdoi/transform"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)},
		EPersonID:        "eperson-1",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("repository-secret"))
	require.NoError(t, err)
	return token
}

// fakeDSpace is a minimal DSpace REST server
type fakeDSpace struct {
	t          *testing.T
	token      string
	logins     atomic.Int32
	patches    atomic.Int32
	loginFails atomic.Int32 // number of 503s before login succeeds
	rejectNext atomic.Bool  // next patch returns 401
	lastPatch  []patchOperation
	lastCookie string
}

func (f *fakeDSpace) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/server/api", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/server/api/security/csrf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(XSRFTokenHeader, "xsrf-1")
		http.SetCookie(w, &http.Cookie{Name: XSRFCookieName, Value: "xsrf-1"})
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/server/api/authn/login", func(w http.ResponseWriter, r *http.Request) {
		if f.loginFails.Load() > 0 {
			f.loginFails.Add(-1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if r.Header.Get(XSRFHeader) != "xsrf-1" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		require.NoError(f.t, r.ParseForm())
		if r.PostForm.Get("user") != "curator" || r.PostForm.Get("password") != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.logins.Add(1)
		w.Header().Set("Authorization", "Bearer "+f.token)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/server/api/core/items/", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/server/api/core/items/"):]
		switch r.Method {
		case http.MethodGet:
			if id == "missing" {
				http.NotFound(w, r)
				return
			}
			if id == "garbled" {
				_, _ = io.WriteString(w, "{not json")
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"id": id,
				"metadata": map[string]interface{}{
					"dc.title": []map[string]string{{"value": "Title of " + id}},
				},
			})
		case http.MethodPatch:
			f.patches.Add(1)
			if f.rejectNext.CompareAndSwap(true, false) {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if r.Header.Get("Authorization") != "Bearer "+f.token || r.Header.Get(XSRFHeader) != "xsrf-1" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			ck, err := r.Cookie(AuthInfoCookie)
			require.NoError(f.t, err)
			f.lastCookie = ck.Value
			require.NoError(f.t, json.NewDecoder(r.Body).Decode(&f.lastPatch))
			w.WriteHeader(http.StatusOK)
		}
	})
	return mux
}

func newTestClient(t *testing.T, opts Options) (*Client, *fakeDSpace) {
	t.Helper()
	fake := &fakeDSpace{t: t, token: signedToken(t, time.Now().Add(time.Hour))}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	policy := retry.DefaultPolicy(3)
	policy.InitialInterval = time.Millisecond
	policy.MaxInterval = 2 * time.Millisecond

	opts.Endpoint = srv.URL + "/"
	if opts.User == "" {
		opts.User, opts.Password = "curator", "pw"
	}
	opts.LoginPolicy = &policy
	c, err := New(opts)
	require.NoError(t, err)
	return c, fake
}

func TestNewRejectsRelativeEndpoint(t *testing.T) {
	_, err := New(Options{Endpoint: "repository.local"})
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig))

	_, err = New(Options{Endpoint: "ftp://repository.example.edu/server"})
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig), "only http and https endpoints")
}

func TestGetRecord(t *testing.T) {
	c, _ := newTestClient(t, Options{})

	m, err := c.GetRecord(context.Background(), "abc-123")
	require.NoError(t, err)
	assert.Equal(t, "Title of abc-123", m.First(transform.FieldTitle))
}

func TestGetRecordErrors(t *testing.T) {
	c, _ := newTestClient(t, Options{})

	_, err := c.GetRecord(context.Background(), "missing")
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	_, err = c.GetRecord(context.Background(), "garbled")
	assert.True(t, errors.Is(err, errors.ErrSchema))
}

func TestAuthenticateFetchesXSRFAndCachesSession(t *testing.T) {
	c, fake := newTestClient(t, Options{})

	bearer, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer "+fake.token, bearer)

	again, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, bearer, again)
	assert.EqualValues(t, 1, fake.logins.Load(), "second call served from cache")
}

func TestAuthenticateRetriesTransientFailures(t *testing.T) {
	c, fake := newTestClient(t, Options{})
	fake.loginFails.Store(2)

	_, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, fake.logins.Load())
}

func TestAuthenticateBadCredentials(t *testing.T) {
	c, _ := newTestClient(t, Options{User: "curator", Password: "wrong"})

	_, err := c.Authenticate(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAuth))
}

func TestAuthenticateWithoutCredentials(t *testing.T) {
	c, _ := newTestClient(t, Options{User: "curator"})

	_, err := c.Authenticate(context.Background())
	assert.True(t, errors.Is(err, errors.ErrAuth))
	assert.Contains(t, errors.FlattenHints(err), "MINT__REPO__PASSWORD")
}

func TestConfiguredXSRFPairIsUsed(t *testing.T) {
	c, fake := newTestClient(t, Options{XSRFCookie: "xsrf-1", XSRFToken: "xsrf-1"})

	_, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, fake.logins.Load())
}

func TestPatchIdentifier(t *testing.T) {
	c, fake := newTestClient(t, Options{})
	ctx := context.Background()

	bearer, err := c.Authenticate(ctx)
	require.NoError(t, err)
	require.NoError(t, c.PatchIdentifier(ctx, "abc-123", "10.80000/xyz", bearer))

	require.Len(t, fake.lastPatch, 1)
	op := fake.lastPatch[0]
	assert.Equal(t, "add", op.Op)
	assert.Equal(t, "/metadata/dc.identifier.doi", op.Path)
	assert.Equal(t, map[string]interface{}{"value": "10.80000/xyz"}, op.Value)

	decoded, err := url.QueryUnescape(fake.lastCookie)
	require.NoError(t, err)
	assert.JSONEq(t, `{"accessToken":"`+fake.token+`"}`, decoded)
}

func TestPatchReauthenticatesOnceAfter401(t *testing.T) {
	c, fake := newTestClient(t, Options{})
	ctx := context.Background()

	bearer, err := c.Authenticate(ctx)
	require.NoError(t, err)
	fake.rejectNext.Store(true)

	require.NoError(t, c.PatchIdentifier(ctx, "abc-123", "10.80000/xyz", bearer))
	assert.EqualValues(t, 2, fake.patches.Load())
	assert.EqualValues(t, 2, fake.logins.Load())
}

func TestProbe(t *testing.T) {
	c, fake := newTestClient(t, Options{})

	require.NoError(t, c.Probe(context.Background()))
	assert.EqualValues(t, 1, fake.logins.Load())
}

func TestNewSessionExpiry(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	exp := now.Add(20 * time.Minute)

	s, err := newSession("Bearer "+signedToken(t, exp), now)
	require.NoError(t, err)
	assert.True(t, s.ExpiresAt.Equal(exp.Truncate(time.Second)))
	assert.Equal(t, 19*time.Minute, s.TTL(now))

	opaque, err := newSession("Bearer not-a-jwt", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(DefaultSessionTTL), opaque.ExpiresAt)
	assert.Equal(t, "not-a-jwt", opaque.AccessToken())

	_, err = newSession("", now)
	assert.True(t, errors.Is(err, errors.ErrAuth))
}

func TestHandleBase(t *testing.T) {
	assert.Equal(t, "https://repo.example.edu/handle/20.500.14038", HandleBase("https://repo.example.edu/", "/20.500.14038/"))
	assert.Empty(t, HandleBase("https://repo.example.edu", ""))
}
