package repository

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"clash_tracker/internal/domain/user"
	errs "clash_tracker/internal/errors"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *BackendClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewBackendClient(srv.URL, 2*time.Second, zap.NewNop().Sugar())
}

var testCred = user.Credential{AccessToken: "tok", TokenType: "bearer"}

func TestLogin_FormEncodedNoAuthHeader(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/login" || r.Method != http.MethodPost {
			t.Fatalf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Fatalf("unexpected content type %q", ct)
		}
		if r.Header.Get("Authorization") != "" {
			t.Fatal("login must not carry a bearer header")
		}
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if r.PostForm.Get("username") != "king" || r.PostForm.Get("password") != "pw" {
			t.Fatalf("unexpected form %v", r.PostForm)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "abc", "token_type": "bearer"})
	})

	cred, err := c.Login(context.Background(), "king", "pw")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.AccessToken != "abc" || cred.TokenType != "bearer" {
		t.Fatalf("unexpected credential %+v", cred)
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"detail":"Incorrect username or password"}`)
	})

	_, err := c.Login(context.Background(), "king", "bad")
	if !errors.Is(err, errs.ErrAuthentication) {
		t.Fatalf("want ErrAuthentication, got %v", err)
	}
	if msg := errs.Message(err); msg != "Incorrect username or password" {
		t.Fatalf("backend message not surfaced: %q", msg)
	}
}

func TestCurrentUser_BearerHeader(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Fatalf("want bearer header, got %q", got)
		}
		_, _ = io.WriteString(w, `{"id":7,"username":"king","player_tag":"#P990V0","trophies":7000,"clan_name":"Kings"}`)
	})

	me, err := c.CurrentUser(context.Background(), testCred)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if me.ID != 7 || me.Tag() != "#P990V0" || me.Trophies != 7000 || me.ClanName != "Kings" {
		t.Fatalf("unexpected identity %+v", me)
	}
}

func TestSyncBattles_EscapesTag(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.RequestURI != "/sync/%23P990V0" {
			t.Fatalf("want escaped tag path, got %q", r.RequestURI)
		}
		_, _ = io.WriteString(w, `{"status":"success","new_matches_synced":4}`)
	})

	n, err := c.SyncBattles(context.Background(), testCred, "p990v0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 4 {
		t.Fatalf("want 4, got %d", n)
	}
}

func TestSyncBattles_ProviderRejection(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"detail":"API Key Invalid or IP blocked by Clash Royale"}`)
	})

	_, err := c.SyncBattles(context.Background(), testCred, "#P990V0")
	if !errors.Is(err, errs.ErrUpstreamProvider) {
		t.Fatalf("want ErrUpstreamProvider, got %v", err)
	}
	if msg := errs.Message(err); msg != "API Key Invalid or IP blocked by Clash Royale" {
		t.Fatalf("want verbatim provider message, got %q", msg)
	}
}

func TestLinkPlayerTag_FormatsBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/users/link-tag" {
			t.Fatalf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body["player_tag"] != "#P990V0" {
			t.Fatalf("want #P990V0, got %q", body["player_tag"])
		}
		_, _ = io.WriteString(w, `{"id":1,"username":"king","player_tag":"#P990V0"}`)
	})

	me, err := c.LinkPlayerTag(context.Background(), testCred, "p990v0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if me.Tag() != "#P990V0" {
		t.Fatalf("unexpected identity %+v", me)
	}
}

func TestMatches_NewestFirst(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[
			{"id":1,"player_1_tag":"#A","player_2_tag":"#B","battle_time":"2024-02-15T12:00:00Z"},
			{"id":2,"player_1_tag":"#A","player_2_tag":"#B","battle_time":"2024-02-16T12:00:00Z","winner_tag":"#A"}
		]`)
	})

	matches, err := c.Matches(context.Background(), testCred)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 2 || matches[0].ID != 2 {
		t.Fatalf("want newest first, got %+v", matches)
	}
	if matches[1].WinnerTag != nil {
		t.Fatal("missing winner should decode as nil")
	}
}

func TestMatches_OffsetlessBattleTime(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[
			{"id":1,"player_1_tag":"#A","player_2_tag":"#B","winner_tag":"#A","battle_time":"2024-02-15T12:00:00"},
			{"id":2,"player_1_tag":"#A","player_2_tag":"#C","battle_time":"2024-02-16T08:30:00.123456"}
		]`)
	})

	matches, err := c.Matches(context.Background(), testCred)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 2 || matches[0].ID != 2 {
		t.Fatalf("want both matches newest first, got %+v", matches)
	}
	want := time.Date(2024, 2, 15, 12, 0, 0, 0, time.UTC)
	if !matches[1].BattleTime.Equal(want) {
		t.Fatalf("want %v read as UTC, got %v", want, matches[1].BattleTime)
	}
}

func TestMatches_MalformedBattleTime(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"id":1,"player_1_tag":"#A","player_2_tag":"#B","battle_time":"soon"}]`)
	})

	if _, err := c.Matches(context.Background(), testCred); err == nil {
		t.Fatal("want an error for an unreadable battle time")
	}
}

func TestValidationErrorList(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"detail":[{"loc":["body","email"],"msg":"value is not a valid email address"}]}`)
	})

	err := c.Signup(context.Background(), user.SignupProfile{Username: "u", Email: "bad", Password: "p"})
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}
	if msg := errs.Message(err); msg != "value is not a valid email address" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestServerErrorWithoutDetailIsNetwork(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Friends(context.Background(), testCred, 3)
	if !errors.Is(err, errs.ErrNetwork) {
		t.Fatalf("want ErrNetwork, got %v", err)
	}
	if errs.Message(err) != errs.ErrNetwork.Error() {
		t.Fatalf("want generic retry message, got %q", errs.Message(err))
	}
}

func TestTransportFailureIsNetwork(t *testing.T) {
	c := NewBackendClient("http://127.0.0.1:1", time.Second, zap.NewNop().Sugar())
	_, err := c.CurrentUser(context.Background(), testCred)
	if !errors.Is(err, errs.ErrNetwork) {
		t.Fatalf("want ErrNetwork, got %v", err)
	}
}

func TestCreateInvite_DefaultExpiry(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/invites/" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"token":"inv-1","creator_username":"king"}`)
	})
	fixed := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	inv, err := c.CreateInvite(context.Background(), testCred)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !inv.ExpiresAt.Equal(fixed.Add(24 * time.Hour)) {
		t.Fatalf("want 24h expiry, got %v", inv.ExpiresAt)
	}
}

func TestCreateInvite_OffsetlessTimestamps(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"token":"inv-2","creator_username":"king",`+
			`"created_at":"2024-02-01T10:00:00","expires_at":"2024-02-02T10:00:00"}`)
	})

	inv, err := c.CreateInvite(context.Background(), testCred)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := time.Date(2024, 2, 2, 10, 0, 0, 0, time.UTC); !inv.ExpiresAt.Equal(want) {
		t.Fatalf("want expiry %v, got %v", want, inv.ExpiresAt)
	}
}
