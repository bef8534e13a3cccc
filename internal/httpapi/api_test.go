// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package httpapi_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/authd/authd/internal/auth"
	"github.com/authd/authd/internal/auth/authtest"
	"github.com/authd/authd/internal/auth/memory"
	"github.com/authd/authd/internal/httpapi"
	"github.com/authd/authd/internal/observability"
)

type testServer struct {
	*httptest.Server
	metrics *observability.Metrics
	logs    *bytes.Buffer
}

func setupServer(t *testing.T, store auth.UserStore, opts ...httpapi.Option) *testServer {
	t.Helper()
	hasher, err := auth.NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)

	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(logs, nil))
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	svc, err := auth.NewService(store, hasher, auth.WithLogger(logger), auth.WithRecorder(metrics))
	require.NoError(t, err)
	authn, err := auth.NewAuthenticator(svc, "")
	require.NoError(t, err)

	opts = append([]httpapi.Option{httpapi.WithLogger(logger), httpapi.WithMetrics(metrics)}, opts...)
	a := httpapi.New(svc, authn, opts...)
	srv := httptest.NewServer(a.Router())
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, metrics: metrics, logs: logs}
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

func doForm(t *testing.T, client *http.Client, method, target string, form url.Values) (*http.Response, map[string]string) {
	t.Helper()
	var body io.Reader = http.NoBody
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(t.Context(), method, target, body)
	require.NoError(t, err)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]string{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func credentials(email, password string) url.Values {
	return url.Values{"email": {email}, "password": {password}}
}

func TestIndex(t *testing.T) {
	srv := setupServer(t, memory.NewStore())

	resp, body := doForm(t, newClient(t), http.MethodGet, srv.URL+"/", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]string{"message": "Bienvenue"}, body)
	assert.NotEmpty(t, resp.Header.Get(httpapi.RequestIDHeader))
}

func TestRegister(t *testing.T) {
	srv := setupServer(t, memory.NewStore())
	client := newClient(t)

	resp, body := doForm(t, client, http.MethodPost, srv.URL+"/users", credentials("bob@bob.com", "mySuperPwd"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]string{"email": "bob@bob.com", "message": "user created"}, body)

	resp, body = doForm(t, client, http.MethodPost, srv.URL+"/users", credentials("bob@bob.com", "other"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, map[string]string{"message": "email already registered"}, body)

	resp, _ = doForm(t, client, http.MethodPost, srv.URL+"/users", url.Values{"email": {"alice@example.com"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessionFlow(t *testing.T) {
	srv := setupServer(t, memory.NewStore())
	client := newClient(t)
	creds := credentials("bob@bob.com", "mySuperPwd")

	resp, _ := doForm(t, client, http.MethodPost, srv.URL+"/users", creds)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doForm(t, client, http.MethodGet, srv.URL+"/profile", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "profile without a session")

	resp, _ = doForm(t, client, http.MethodPost, srv.URL+"/sessions", credentials("bob@bob.com", "wrong"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := doForm(t, client, http.MethodPost, srv.URL+"/sessions", creds)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]string{"email": "bob@bob.com", "message": "logged in"}, body)

	var session *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == auth.DefaultSessionCookie {
			session = c
		}
	}
	require.NotNil(t, session, "login must set the session cookie")
	assert.NotEmpty(t, session.Value)
	assert.True(t, session.HttpOnly)

	resp, body = doForm(t, client, http.MethodGet, srv.URL+"/profile", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]string{"email": "bob@bob.com"}, body)

	// Logout redirects to / and the client follows it.
	resp, body = doForm(t, client, http.MethodDelete, srv.URL+"/sessions", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/", resp.Request.URL.Path)
	assert.Equal(t, "Bienvenue", body["message"])

	resp, _ = doForm(t, client, http.MethodGet, srv.URL+"/profile", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "profile after logout")

	resp, _ = doForm(t, client, http.MethodDelete, srv.URL+"/sessions", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "second logout")
}

func TestLogout_RedirectsWithFound(t *testing.T) {
	srv := setupServer(t, memory.NewStore())
	client := newClient(t)
	creds := credentials("bob@bob.com", "mySuperPwd")

	doForm(t, client, http.MethodPost, srv.URL+"/users", creds)
	resp, _ := doForm(t, client, http.MethodPost, srv.URL+"/sessions", creds)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	resp, _ = doForm(t, client, http.MethodDelete, srv.URL+"/sessions", nil)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))
}

func TestLogin_ReplacesPreviousSession(t *testing.T) {
	srv := setupServer(t, memory.NewStore())
	first, second := newClient(t), newClient(t)
	creds := credentials("bob@bob.com", "mySuperPwd")

	doForm(t, first, http.MethodPost, srv.URL+"/users", creds)
	resp, _ := doForm(t, first, http.MethodPost, srv.URL+"/sessions", creds)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = doForm(t, second, http.MethodPost, srv.URL+"/sessions", creds)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doForm(t, first, http.MethodGet, srv.URL+"/profile", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "older session is gone")
	resp, _ = doForm(t, second, http.MethodGet, srv.URL+"/profile", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPasswordResetFlow(t *testing.T) {
	srv := setupServer(t, memory.NewStore())
	client := newClient(t)

	doForm(t, client, http.MethodPost, srv.URL+"/users", credentials("bob@bob.com", "mySuperPwd"))

	resp, _ := doForm(t, client, http.MethodPost, srv.URL+"/reset_password", url.Values{"email": {"nobody@example.com"}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := doForm(t, client, http.MethodPost, srv.URL+"/reset_password", url.Values{"email": {"bob@bob.com"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "bob@bob.com", body["email"])
	token := body["reset_token"]
	require.NotEmpty(t, token)

	update := url.Values{"email": {"bob@bob.com"}, "reset_token": {token}, "new_password": {"newPwd"}}
	resp, body = doForm(t, client, http.MethodPut, srv.URL+"/reset_password", update)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]string{"email": "bob@bob.com", "message": "Password updated"}, body)

	resp, _ = doForm(t, client, http.MethodPut, srv.URL+"/reset_password", update)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "token is single use")

	resp, _ = doForm(t, client, http.MethodPut, srv.URL+"/reset_password",
		url.Values{"email": {"bob@bob.com"}, "reset_token": {token}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "missing new password")

	resp, _ = doForm(t, client, http.MethodPost, srv.URL+"/sessions", credentials("bob@bob.com", "mySuperPwd"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "old password")
	resp, _ = doForm(t, client, http.MethodPost, srv.URL+"/sessions", credentials("bob@bob.com", "newPwd"))
	assert.Equal(t, http.StatusOK, resp.StatusCode, "new password")
}

func TestStoreFailuresAreInternalErrors(t *testing.T) {
	store := authtest.NewMockUserStore(t)
	store.On("FindBy", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))
	srv := setupServer(t, store)
	client := newClient(t)

	for _, tc := range []struct {
		method, path string
		form         url.Values
	}{
		{http.MethodPost, "/users", credentials("bob@bob.com", "pwd")},
		{http.MethodPost, "/reset_password", url.Values{"email": {"bob@bob.com"}}},
	} {
		resp, body := doForm(t, client, tc.method, srv.URL+tc.path, tc.form)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode, tc.path)
		assert.Equal(t, map[string]string{"message": "internal error"}, body, tc.path)
	}

	assert.Contains(t, srv.logs.String(), "AUTH_REGISTER_FAILED")
	assert.Contains(t, srv.logs.String(), "AUTH_RESET_REQUEST_FAILED")
}

func TestSessionLookupFailureIsInternalError(t *testing.T) {
	store := authtest.NewMockUserStore(t)
	store.On("FindBy", mock.Anything, auth.Criteria{auth.FieldSessionID: "stale"}).
		Return(nil, errors.New("connection refused"))
	srv := setupServer(t, store)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/profile", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: auth.DefaultSessionCookie, Value: "stale"})
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestMetricsAndRequestLog(t *testing.T) {
	srv := setupServer(t, memory.NewStore())
	client := newClient(t)

	doForm(t, client, http.MethodGet, srv.URL+"/", nil)
	doForm(t, client, http.MethodPost, srv.URL+"/users", credentials("bob@bob.com", "pwd"))
	doForm(t, client, http.MethodGet, srv.URL+"/missing", nil)

	assert.InDelta(t, 1, testutil.ToFloat64(srv.metrics.RequestsTotal.WithLabelValues("/", "200")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(srv.metrics.RequestsTotal.WithLabelValues("/users", "200")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(srv.metrics.AuthEventsTotal.WithLabelValues(auth.EventRegister, auth.OutcomeOK)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(srv.metrics.RequestsTotal.WithLabelValues("unmatched", "403")), 0)

	logs := srv.logs.String()
	assert.Contains(t, logs, `"msg":"request served"`)
	assert.Contains(t, logs, `"request_id"`)
}

func TestRequestIDIsEchoed(t *testing.T) {
	srv := setupServer(t, memory.NewStore())
	id := ulid.Make().String()

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/", nil)
	require.NoError(t, err)
	req.Header.Set(httpapi.RequestIDHeader, id)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, id, resp.Header.Get(httpapi.RequestIDHeader))
	assert.Contains(t, srv.logs.String(), `"request_id":"`+id+`"`)
}

func TestRequestIDRejectsNonULID(t *testing.T) {
	srv := setupServer(t, memory.NewStore())

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/", nil)
	require.NoError(t, err)
	req.Header.Set(httpapi.RequestIDHeader, "client-supplied")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	got := resp.Header.Get(httpapi.RequestIDHeader)
	_, err = ulid.ParseStrict(got)
	require.NoError(t, err, "a fresh ULID replaces the client value")
	assert.NotContains(t, srv.logs.String(), "client-supplied")
}

func TestLongPasswords(t *testing.T) {
	srv := setupServer(t, memory.NewStore())
	client := newClient(t)
	long := strings.Repeat("p", 73)

	resp, body := doForm(t, client, http.MethodPost, srv.URL+"/users", credentials("bob@bob.com", long))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "user created", body["message"])

	resp, _ = doForm(t, client, http.MethodPost, srv.URL+"/sessions", credentials("bob@bob.com", long[:72]))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "72 byte prefix")
	resp, _ = doForm(t, client, http.MethodPost, srv.URL+"/sessions", credentials("bob@bob.com", long))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = doForm(t, client, http.MethodPost, srv.URL+"/reset_password", url.Values{"email": {"bob@bob.com"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	longer := strings.Repeat("q", 200)
	update := url.Values{"email": {"bob@bob.com"}, "reset_token": {body["reset_token"]}, "new_password": {longer}}
	resp, _ = doForm(t, client, http.MethodPut, srv.URL+"/reset_password", update)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doForm(t, client, http.MethodPost, srv.URL+"/sessions", credentials("bob@bob.com", longer))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProtectedPaths(t *testing.T) {
	t.Run("unknown paths need a session", func(t *testing.T) {
		srv := setupServer(t, memory.NewStore())
		client := newClient(t)
		creds := credentials("bob@bob.com", "mySuperPwd")

		resp, _ := doForm(t, client, http.MethodGet, srv.URL+"/admin", nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		doForm(t, client, http.MethodPost, srv.URL+"/users", creds)
		doForm(t, client, http.MethodPost, srv.URL+"/sessions", creds)
		resp, _ = doForm(t, client, http.MethodGet, srv.URL+"/admin", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("configured public paths", func(t *testing.T) {
		srv := setupServer(t, memory.NewStore(), httpapi.WithPublicPaths([]string{"/sessions"}))
		client := newClient(t)

		resp, _ := doForm(t, client, http.MethodGet, srv.URL+"/", nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, "index is no longer public")
		resp, _ = doForm(t, client, http.MethodPost, srv.URL+"/users", credentials("bob@bob.com", "pwd"))
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, "register is no longer public")
		resp, _ = doForm(t, client, http.MethodPost, srv.URL+"/sessions", credentials("bob@bob.com", "pwd"))
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "login stays reachable")
	})
}
