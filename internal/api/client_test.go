package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convo/internal/apperr"
)

func newClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 5*time.Second)
}

func TestLoginStoresSession(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/auth/login", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "alice", body["name"])
		json.NewEncoder(w).Encode(Session{
			AccessToken:  "acc-1",
			RefreshToken: "ref-1",
			UserID:       "u1",
			Name:         "alice",
		})
	}))

	s, err := c.Login("alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, "u1", s.UserID)
	assert.Equal(t, "acc-1", c.AccessToken())
	assert.Equal(t, "u1", c.UserID())
}

func TestLoginInvalidCredentials(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "Invalid credentials"})
	}))

	_, err := c.Login("alice", "wrong")
	assert.Equal(t, apperr.CodeUnauthenticated, apperr.CodeOf(err))
}

func TestRefreshAndReplayOnce(t *testing.T) {
	var refreshes int32
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/refresh":
			require.Equal(t, "Bearer ref-1", r.Header.Get("Authorization"))
			atomic.AddInt32(&refreshes, 1)
			json.NewEncoder(w).Encode(map[string]string{"access_token": "acc-2"})
		case "/api/user/block":
			if r.Header.Get("Authorization") != "Bearer acc-2" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	c.SetSession(Session{AccessToken: "acc-stale", RefreshToken: "ref-1"})

	require.NoError(t, c.SetBlocked("u9", true))
	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshes))
	assert.Equal(t, "acc-2", c.AccessToken())
}

func TestRefreshSingleFlight(t *testing.T) {
	var refreshes int32
	release := make(chan struct{})
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/refresh":
			atomic.AddInt32(&refreshes, 1)
			<-release
			json.NewEncoder(w).Encode(map[string]string{"access_token": "acc-2"})
		default:
			if r.Header.Get("Authorization") != "Bearer acc-2" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		}
	}))
	c.SetSession(Session{AccessToken: "acc-stale", RefreshToken: "ref-1"})

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.SetBlocked("u9", true)
		}(i)
	}
	time.Sleep(100 * time.Millisecond) // let every caller hit the stale token
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshes))
}

func TestRefreshFailureIsFatal(t *testing.T) {
	var expired int32
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/refresh":
			w.WriteHeader(http.StatusUnauthorized)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	c.SetSession(Session{AccessToken: "acc-stale", RefreshToken: "ref-bad"})
	c.OnSessionExpired(func() { atomic.AddInt32(&expired, 1) })

	err := c.SetBlocked("u9", true)
	assert.Equal(t, apperr.CodeUnauthenticated, apperr.CodeOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&expired))

	// The session is dead: later calls fail fast, no retry loop.
	err = c.SelectAvatar("a")
	assert.Equal(t, apperr.CodeUnauthenticated, apperr.CodeOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&expired))
}

func TestIdentityParsesClaims(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u42",
		"exp": float64(1900000000),
	})
	signed, err := token.SignedString([]byte("irrelevant"))
	require.NoError(t, err)

	c := NewClient("http://unused", time.Second)
	c.SetSession(Session{AccessToken: signed})

	sub, exp, err := c.Identity()
	require.NoError(t, err)
	assert.Equal(t, "u42", sub)
	assert.Equal(t, int64(1900000000), exp.Unix())
}

func TestUploadFileMultipart(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "r1", r.FormValue("room_id"))
		assert.Equal(t, "enc-caption", r.FormValue("caption"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "notes.txt", header.Filename)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	c.SetSession(Session{AccessToken: "acc-1"})

	err := c.UploadFile("r1", "notes.txt", []byte("hello"), "enc-caption")
	assert.NoError(t, err)
}

func TestGroupLogs(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "r1", body["room_id"])
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ok",
			"logs":   []GroupLog{{Action: "rename", Details: "to x", Timestamp: "2026-01-01T00:00:00"}},
			"info":   GroupInfo{CreatedBy: "u1", CreatedAt: "2025-12-01T00:00:00"},
		})
	}))
	c.SetSession(Session{AccessToken: "acc-1"})

	logs, info, err := c.GroupLogs("r1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "rename", logs[0].Action)
	assert.Equal(t, "u1", info.CreatedBy)
}

func TestStatusErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		code   apperr.Code
	}{
		{http.StatusForbidden, apperr.CodeRejected},
		{http.StatusNotFound, apperr.CodeNotFound},
		{http.StatusConflict, apperr.CodeRejected},
		{http.StatusInternalServerError, apperr.CodeTransient},
	}
	for _, tc := range cases {
		c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			json.NewEncoder(w).Encode(map[string]string{"error": "nope"})
		}))
		c.SetSession(Session{AccessToken: "acc-1"})
		err := c.DeleteChat("r1", true)
		assert.Equal(t, tc.code, apperr.CodeOf(err), "status %d", tc.status)
	}
}
