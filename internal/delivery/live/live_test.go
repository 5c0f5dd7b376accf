package live

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"clash_tracker/internal/domain/user"
	"clash_tracker/internal/middleware"
	"clash_tracker/internal/usecase/dashboard"
)

func TestHub_PublishReachesSlot(t *testing.T) {
	initial := func(slot string) (dashboard.Snapshot, bool) {
		return dashboard.Snapshot{User: user.Identity{Username: "initial"}}, true
	}
	hub := NewHub(initial, false, zap.NewNop().Sugar())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r.WithContext(middleware.WithSlot(r.Context(), "s1")))
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first Message
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatal(err)
	}
	if first.Type != "dashboard" || first.Data.User.Username != "initial" {
		t.Fatalf("unexpected initial message %+v", first)
	}

	hub.Publish("other", dashboard.Snapshot{User: user.Identity{Username: "nope"}})
	hub.Publish("s1", dashboard.Snapshot{User: user.Identity{Username: "king"}})

	var next Message
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatal(err)
	}
	if next.Data.User.Username != "king" {
		t.Fatalf("want snapshot for s1, got %+v", next)
	}
	if hub.Count("s1") != 1 {
		t.Fatalf("want one connection, got %d", hub.Count("s1"))
	}
}
