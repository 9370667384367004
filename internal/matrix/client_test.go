package matrix

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestLoginWithPassword(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/_matrix/client/v3/login" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token": "syt_token", "device_id": "DEV1", "user_id": "@scooby:example.org"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "@scooby:example.org", "hunter2", "", 10, zap.NewNop())
	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if c.accessToken != "syt_token" {
		t.Errorf("access token not stored: %q", c.accessToken)
	}
}

func TestLoginRejectedIsAuthFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"errcode": "M_FORBIDDEN", "error": "Invalid password"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "@scooby:example.org", "wrong", "", 10, zap.NewNop())
	err := c.Login(context.Background())
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
	if !IsFatal(err) {
		t.Error("auth failure must be fatal")
	}
}

func TestLoginWithTokenValidates(t *testing.T) {
	var sawWhoami bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/_matrix/client/v3/account/whoami" {
			sawWhoami = true
			if got := r.Header.Get("Authorization"); got != "Bearer syt_existing" {
				t.Errorf("missing bearer token, got %q", got)
			}
			_, _ = w.Write([]byte(`{"user_id": "@scooby:example.org"}`))
			return
		}
		t.Errorf("unexpected path %s", r.URL.Path)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "@scooby:example.org", "", "syt_existing", 10, zap.NewNop())
	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !sawWhoami {
		t.Error("token login must validate via whoami")
	}
}

func TestLoginWithoutCredentials(t *testing.T) {
	c := NewClient("http://unused.example", "@u:x", "", "", 10, zap.NewNop())
	if err := c.Login(context.Background()); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestSyncParsesAndRecordsRooms(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/_matrix/client/v3/sync" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("since"); got != "s100" {
			t.Errorf("since = %q", got)
		}
		_, _ = w.Write([]byte(`{
			"next_batch": "s200",
			"rooms": {"join": {
				"!a:example.org": {"timeline": {
					"events": [{"event_id": "$e1", "type": "m.room.message", "content": {"body": "hi", "msgtype": "m.text"}}],
					"prev_batch": "t1",
					"limited": false
				}}
			}}
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "@u:x", "", "tok", 10, zap.NewNop())
	resp, err := c.Sync(context.Background(), "s100", time.Second)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if resp.NextBatch != "s200" {
		t.Errorf("NextBatch = %q", resp.NextBatch)
	}
	joined, ok := resp.Rooms.Join["!a:example.org"]
	if !ok || len(joined.Timeline.Events) != 1 {
		t.Fatalf("timeline not parsed: %+v", resp.Rooms)
	}

	if got := c.PrevBatch("!a:example.org"); got != "t1" {
		t.Errorf("PrevBatch = %q", got)
	}
	if rooms := c.JoinedRooms(); len(rooms) != 1 || rooms[0] != "!a:example.org" {
		t.Errorf("JoinedRooms = %v", rooms)
	}
}

func TestSyncKeepsEarliestPrevBatch(t *testing.T) {
	tokens := []string{"t-early", "t-late"}
	var call int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := tokens[call]
		call++
		_, _ = w.Write([]byte(`{"next_batch": "s", "rooms": {"join": {"!a:x": {"timeline": {"prev_batch": "` + tok + `"}}}}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "@u:x", "", "tok", 10, zap.NewNop())
	for i := 0; i < 2; i++ {
		if _, err := c.Sync(context.Background(), "", time.Second); err != nil {
			t.Fatal(err)
		}
	}

	if got := c.PrevBatch("!a:x"); got != "t-early" {
		t.Errorf("expected first-seen token retained, got %q", got)
	}
}

func TestMessagesPagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/_matrix/client/v3/rooms/!a:example.org/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("dir") != "b" || q.Get("from") != "t1" || q.Get("limit") != "100" {
			t.Errorf("unexpected query %v", q)
		}
		_, _ = w.Write([]byte(`{"start": "t1", "end": "t2", "chunk": [{"event_id": "$old1"}, {"event_id": "$old2"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "@u:x", "", "tok", 10, zap.NewNop())
	resp, err := c.Messages(context.Background(), "!a:example.org", "t1", DirBackward, 100)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if resp.End != "t2" || len(resp.Chunk) != 2 {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrAuthFailed},
		{http.StatusForbidden, ErrAuthFailed},
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusNotFound, ErrNotFound},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"errcode": "M_TEST"}`))
		}))

		c := NewClient(srv.URL, "@u:x", "", "tok", 10, zap.NewNop())
		_, err := c.Sync(context.Background(), "", time.Second)
		if !errors.Is(err, tc.want) {
			t.Errorf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
		srv.Close()
	}
}

func TestServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "@u:x", "", "tok", 10, zap.NewNop())
	_, err := c.Sync(context.Background(), "", time.Second)
	if err == nil {
		t.Fatal("expected error")
	}
	if IsFatal(err) {
		t.Error("5xx must not be fatal")
	}
}
