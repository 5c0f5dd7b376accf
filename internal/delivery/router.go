package delivery

import (
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	authDelivery "clash_tracker/internal/delivery/auth"
	dashboardDelivery "clash_tracker/internal/delivery/dashboard"
	"clash_tracker/internal/delivery/live"
	ownMiddleware "clash_tracker/internal/middleware"
)

type Handlers struct {
	Auth      *authDelivery.AuthHandler
	Dashboard *dashboardDelivery.DashboardHandler
	Live      *live.Hub
}

type RouterOptions struct {
	SessionTTL   time.Duration
	SecureCookie bool
	LocalCors    bool
	RequestLog   bool
}

func NewRouter(h Handlers, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()
	if opts.LocalCors {
		r.Use(ownMiddleware.CORS)
	}
	if opts.RequestLog {
		r.Use(chiMiddleware.Logger)
	}
	r.Use(chiMiddleware.Recoverer)
	r.Use(ownMiddleware.Session(opts.SessionTTL, opts.SecureCookie))

	r.Get("/invite/{token}", h.Auth.Invite)

	r.Route("/api", func(r chi.Router) {
		r.Get("/view", h.Auth.View)
		r.Post("/login", h.Auth.Login)
		r.Post("/signup", h.Auth.Signup)
		r.Post("/logout", h.Auth.Logout)
		r.Post("/screen/{screen}", h.Auth.Screen)

		r.Route("/dashboard", func(r chi.Router) {
			r.Get("/", h.Dashboard.Load)
			r.Post("/sync", h.Dashboard.Sync)
			r.Put("/link-tag", h.Dashboard.LinkTag)
			r.Post("/friends", h.Dashboard.AddFriend)
			r.Post("/invites", h.Dashboard.CreateInvite)
			r.Post("/invites/copied", h.Dashboard.MarkInviteCopied)
		})

		if h.Live != nil {
			r.Get("/live", h.Live.ServeWS)
		}
	})
	return r
}
