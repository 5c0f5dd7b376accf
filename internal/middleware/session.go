package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const SessionCookie = "sessionID"

type slotKey struct{}

// Session makes sure every browser carries a sessionID cookie and exposes it
// to handlers as the browser's slot.
func Session(ttl time.Duration, secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			slot := ""
			if c, err := r.Cookie(SessionCookie); err == nil {
				if _, err := uuid.Parse(c.Value); err == nil {
					slot = c.Value
				}
			}
			if slot == "" {
				slot = uuid.NewString()
			}

			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookie,
				Value:    slot,
				Path:     "/",
				Expires:  time.Now().Add(ttl),
				Secure:   secure,
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})

			next.ServeHTTP(w, r.WithContext(WithSlot(r.Context(), slot)))
		})
	}
}

func WithSlot(ctx context.Context, slot string) context.Context {
	return context.WithValue(ctx, slotKey{}, slot)
}

func SlotFrom(ctx context.Context) string {
	slot, _ := ctx.Value(slotKey{}).(string)
	return slot
}
