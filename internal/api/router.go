package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/isdelr/gatekeeper-be/internal/api/handlers"
	apimw "github.com/isdelr/gatekeeper-be/internal/api/middleware"
	"github.com/isdelr/gatekeeper-be/internal/auth"
	"github.com/isdelr/gatekeeper-be/internal/services"
	"github.com/isdelr/gatekeeper-be/internal/websocket"
)

// Options configures the router.
type Options struct {
	AllowedOrigins []string
	// UsersPerMinute throttles GET /users per client IP.
	UsersPerMinute int
}

// NewRouter creates and configures a new Chi router.
func NewRouter(opts Options, hub *websocket.Hub, sessionService services.SessionServiceProvider, userService services.UserServiceProvider, eventService services.EventServiceProvider, db handlers.Pinger) *chi.Mux {
	r := chi.NewRouter()

	// Basic middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apimw.RequestLogger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(sessionService)
	userHandler := handlers.NewUserHandler(userService)
	eventHandler := handlers.NewEventHandler(eventService)
	wsHandler := handlers.NewWebSocketHandler(hub, opts.AllowedOrigins)
	healthHandler := handlers.NewHealthHandler(db)

	throttle := apimw.NewThrottle(opts.UsersPerMinute, time.Minute)
	guard := auth.Middleware(sessionService)

	routes := func(r chi.Router) {
		// Public routes
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.With(throttle.Handler).Get("/users", userHandler.GetAll)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(guard)
			r.Post("/logout", authHandler.Logout)
			r.Post("/refresh", authHandler.Refresh)
			r.Get("/me", authHandler.Me)
			r.Get("/me/events", eventHandler.GetRecent)
			r.Get("/ws", wsHandler.Serve)
		})
	}

	r.Get("/healthz", healthHandler.Check)
	r.Group(routes)
	r.Route("/api", routes)

	return r
}
