package delivery

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	authDelivery "clash_tracker/internal/delivery/auth"
	dashboardDelivery "clash_tracker/internal/delivery/dashboard"
	"clash_tracker/internal/repository"
	"clash_tracker/internal/usecase/workspace"
	"clash_tracker/internal/validation"
)

type fakeTracker struct {
	mu      sync.Mutex
	signups []map[string]any
}

func (f *fakeTracker) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	authed := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer tok" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = io.WriteString(w, `{"detail":"Could not validate credentials"}`)
				return
			}
			next(w, r)
		}
	}

	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("password") == "bad" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"detail":"Incorrect username or password"}`)
			return
		}
		_, _ = io.WriteString(w, `{"access_token":"tok","token_type":"bearer"}`)
	})
	mux.HandleFunc("POST /auth/signup", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.signups = append(f.signups, body)
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{"id":1,"username":"king"}`)
	})
	mux.HandleFunc("GET /users/me", authed(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":1,"username":"king","player_tag":"#P990V0","trophies":7000}`)
	}))
	mux.HandleFunc("GET /matches", authed(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[
			{"id":1,"player_1_tag":"#P990V0","player_2_tag":"#B","winner_tag":"#P990V0","battle_time":"2024-02-15T12:00:00Z"},
			{"id":2,"player_1_tag":"#C","player_2_tag":"#P990V0","winner_tag":"#C","battle_time":"2024-02-16T12:00:00"}
		]`)
	}))
	mux.HandleFunc("GET /users/1/friends", authed(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"id":2,"username":"bob","player_tag":"#B"}]`)
	}))
	mux.HandleFunc("POST /sync/{tag}", authed(func(w http.ResponseWriter, r *http.Request) {
		if r.RequestURI != "/sync/%23P990V0" {
			t.Errorf("unexpected sync path %q", r.RequestURI)
		}
		_, _ = io.WriteString(w, `{"status":"success","new_matches_synced":3}`)
	}))
	mux.HandleFunc("POST /invites/", authed(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"token":"inv-1","creator_username":"king"}`)
	}))
	return mux
}

type envelope struct {
	Status int             `json:"Status"`
	Body   json.RawMessage `json:"Body"`
}

type browser struct {
	t      *testing.T
	base   string
	client *http.Client
}

func newApp(t *testing.T) (*browser, *fakeTracker) {
	t.Helper()
	log := zap.NewNop().Sugar()

	tracker := &fakeTracker{}
	backend := httptest.NewServer(tracker.handler(t))
	t.Cleanup(backend.Close)

	api := repository.NewBackendClient(backend.URL, 2*time.Second, log)
	reg := workspace.NewRegistry(api, repository.NewSessionMapStorage(0), repository.NewInviteMapStorage(0),
		workspace.Options{PublicURL: "http://app.test", MatchLimit: 50}, log)
	v := validation.New()

	router := NewRouter(Handlers{
		Auth:      authDelivery.NewAuthHandler(reg, v, log),
		Dashboard: dashboardDelivery.NewDashboardHandler(reg, v, log),
	}, RouterOptions{SessionTTL: time.Hour})

	app := httptest.NewServer(router)
	t.Cleanup(app.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &browser{t: t, base: app.URL, client: client}, tracker
}

func (b *browser) do(method, path string, body any) (int, envelope) {
	b.t.Helper()
	var rd io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, b.base+path, rd)
	if err != nil {
		b.t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := b.client.Do(req)
	if err != nil {
		b.t.Fatal(err)
	}
	defer resp.Body.Close()

	var env envelope
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			b.t.Fatalf("%s %s: bad envelope %q", method, path, raw)
		}
	}
	return resp.StatusCode, env
}

type renderedView struct {
	View string `json:"view"`
	Data struct {
		Screen string `json:"screen"`
		Notice string `json:"notice"`
		Invite *struct {
			Token     string  `json:"token"`
			TargetTag *string `json:"target_tag"`
		} `json:"invite"`
		User struct {
			Username string `json:"username"`
		} `json:"user"`
	} `json:"data"`
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return v
}

func TestLoginDashboardLogout(t *testing.T) {
	b, _ := newApp(t)

	code, env := b.do(http.MethodGet, "/api/view", nil)
	if v := decode[renderedView](t, env.Body); code != http.StatusOK || v.View != "logged_out" || v.Data.Screen != "login" {
		t.Fatalf("want logged out login screen, got %d %s", code, env.Body)
	}

	code, env = b.do(http.MethodPost, "/api/login", map[string]string{"username": "king", "password": "bad"})
	if code != http.StatusUnauthorized || !strings.Contains(string(env.Body), "Incorrect username or password") {
		t.Fatalf("want inline auth failure, got %d %s", code, env.Body)
	}

	code, env = b.do(http.MethodPost, "/api/login", map[string]string{"username": "king", "password": "pw"})
	if v := decode[renderedView](t, env.Body); code != http.StatusOK || v.View != "logged_in" || v.Data.User.Username != "king" {
		t.Fatalf("want logged in, got %d %s", code, env.Body)
	}
	if strings.Contains(string(env.Body), "tok") {
		t.Fatal("credential must not be sent to the browser")
	}

	code, env = b.do(http.MethodGet, "/api/dashboard", nil)
	if code != http.StatusOK {
		t.Fatalf("dashboard: %d %s", code, env.Body)
	}
	snap := decode[struct {
		Matches   []json.RawMessage `json:"matches"`
		Standings []struct {
			Tag    string `json:"tag"`
			Wins   int    `json:"wins"`
			Losses int    `json:"losses"`
		} `json:"standings"`
	}](t, env.Body)
	if len(snap.Matches) != 2 || len(snap.Standings) != 1 || snap.Standings[0].Tag != "#B" || snap.Standings[0].Wins != 1 {
		t.Fatalf("unexpected dashboard %s", env.Body)
	}

	code, env = b.do(http.MethodPost, "/api/dashboard/sync", nil)
	if code != http.StatusOK || !strings.Contains(string(env.Body), `"new_matches":3`) {
		t.Fatalf("sync: %d %s", code, env.Body)
	}

	code, env = b.do(http.MethodPost, "/api/dashboard/invites", nil)
	if code != http.StatusOK || !strings.Contains(string(env.Body), "http://app.test/invite/inv-1?from=king") {
		t.Fatalf("invite: %d %s", code, env.Body)
	}
	code, env = b.do(http.MethodPost, "/api/dashboard/invites/copied", nil)
	if code != http.StatusOK || !strings.Contains(string(env.Body), `"copied":true`) {
		t.Fatalf("copied: %d %s", code, env.Body)
	}

	code, env = b.do(http.MethodPost, "/api/logout", nil)
	if v := decode[renderedView](t, env.Body); code != http.StatusOK || v.View != "logged_out" {
		t.Fatalf("logout: %d %s", code, env.Body)
	}
	if code, _ = b.do(http.MethodGet, "/api/dashboard", nil); code != http.StatusUnauthorized {
		t.Fatalf("dashboard after logout should be 401, got %d", code)
	}
}

func TestInviteLinkSignup(t *testing.T) {
	b, tracker := newApp(t)

	req, _ := http.NewRequest(http.MethodGet, b.base+"/invite/inv-9?from=king&tag=xyz", nil)
	resp, err := b.client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/" {
		t.Fatalf("want redirect to /, got %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}

	_, env := b.do(http.MethodGet, "/api/view", nil)
	v := decode[renderedView](t, env.Body)
	if v.Data.Screen != "signup" || v.Data.Invite == nil || v.Data.Invite.Token != "inv-9" {
		t.Fatalf("want signup screen with invite, got %s", env.Body)
	}

	code, env := b.do(http.MethodPost, "/api/signup", map[string]string{
		"username": "rival", "email": "rival@example.com", "password": "secret1",
	})
	if code != http.StatusOK {
		t.Fatalf("signup: %d %s", code, env.Body)
	}

	if len(tracker.signups) != 1 {
		t.Fatalf("want one signup, got %d", len(tracker.signups))
	}
	sent := tracker.signups[0]
	if sent["player_tag"] != "#XYZ" || sent["invite_token"] != "inv-9" {
		t.Fatalf("invite not attached: %v", sent)
	}

	_, env = b.do(http.MethodPost, "/api/logout", nil)
	if v := decode[renderedView](t, env.Body); v.Data.Invite != nil {
		t.Fatal("pending invite should be gone after signup")
	}
}

func TestInviteLinkWithMalformedTag(t *testing.T) {
	b, tracker := newApp(t)

	req, _ := http.NewRequest(http.MethodGet, b.base+"/invite/inv-7?from=king&tag=%24%25", nil)
	resp, err := b.client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("invite link should still redirect, got %d", resp.StatusCode)
	}

	_, env := b.do(http.MethodGet, "/api/view", nil)
	v := decode[renderedView](t, env.Body)
	if v.Data.Invite == nil || v.Data.Invite.Token != "inv-7" || v.Data.Invite.TargetTag != nil {
		t.Fatalf("want invite kept without target tag, got %s", env.Body)
	}

	b.do(http.MethodPost, "/api/signup", map[string]string{
		"username": "rival", "email": "rival@example.com", "password": "secret1",
	})
	if len(tracker.signups) != 1 {
		t.Fatalf("want one signup, got %d", len(tracker.signups))
	}
	if _, sent := tracker.signups[0]["player_tag"]; sent {
		t.Fatalf("malformed tag must not reach the backend: %v", tracker.signups[0])
	}
	if tracker.signups[0]["invite_token"] != "inv-7" {
		t.Fatalf("invite not attached: %v", tracker.signups[0])
	}
}

func TestSignupValidation(t *testing.T) {
	b, tracker := newApp(t)

	code, env := b.do(http.MethodPost, "/api/signup", map[string]string{
		"username": "rival", "email": "not-an-email", "password": "secret1",
	})
	if code != http.StatusBadRequest || !strings.Contains(string(env.Body), "email") {
		t.Fatalf("want 400 about email, got %d %s", code, env.Body)
	}
	if len(tracker.signups) != 0 {
		t.Fatal("invalid input must not reach the backend")
	}
}

func TestLinkTagValidation(t *testing.T) {
	b, _ := newApp(t)
	b.do(http.MethodPost, "/api/login", map[string]string{"username": "king", "password": "pw"})

	code, _ := b.do(http.MethodPut, "/api/dashboard/link-tag", map[string]string{"player_tag": "#$%"})
	if code != http.StatusBadRequest {
		t.Fatalf("want 400 for a malformed tag, got %d", code)
	}
}
