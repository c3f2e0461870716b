package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/messenger-client/internal/config"
	"github.com/messenger-client/internal/metrics"
	"github.com/messenger-client/internal/middleware"
	"github.com/messenger-client/internal/syncer"
	"github.com/messenger-client/internal/ws"
)

// Deps: всё, что нужно HTTP-мосту.
type Deps struct {
	Engine  *syncer.Engine
	Hub     *ws.Hub
	Metrics *metrics.Metrics
	Bridge  config.BridgeConfig
}

func corsOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// NewRouter собирает маршруты моста для слоя отображения.
func NewRouter(d Deps) http.Handler {
	sessionH := NewSessionHandler(d.Engine)
	chatH := NewChatHandler(d.Engine)
	msgH := NewMessageHandler(d.Engine)
	userH := NewUserHandler(d.Engine)
	wsH := NewWSHandler(d.Hub, d.Bridge.CORSAllowedOrigins)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Use(middleware.LocalOnly(d.Bridge.Secret))
	// Не сжимать WebSocket: иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
	r.Use(func(next http.Handler) http.Handler {
		compressed := chimw.Compress(5)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			compressed.ServeHTTP(w, req)
		})
	})
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins(d.Bridge.CORSAllowedOrigins),
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", middleware.RequestIDHeader, middleware.SecretHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"state":  d.Engine.State().String(),
			"views":  d.Hub.Count(),
		})
	})
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}
	r.Get("/events", wsH.ServeWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/session", sessionH.Get)

		// Мутации и вход ограничены по частоте.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(d.Bridge.RateLimitRPS, d.Bridge.RateBurst))

			r.Post("/auth/login", sessionH.Login)
			r.Post("/auth/logout", sessionH.Logout)
			r.Post("/auth/register", sessionH.Register)
			r.Post("/auth/verify-email", sessionH.VerifyEmail)
			r.Post("/auth/resend-otp", sessionH.ResendOTP)
			r.Post("/auth/forgot-password", sessionH.ForgotPassword)
			r.Post("/auth/reset-password", sessionH.ResetPassword)

			r.Post("/conversations", chatH.CreateGroup)
			r.Post("/conversations/private", chatH.StartPrivate)
			r.Post("/conversations/join", chatH.Join)
			r.Put("/conversations/{id}/profile", chatH.UpdateProfile)
			r.Post("/conversations/{id}/participants", chatH.AddParticipant)
			r.Delete("/conversations/{id}/participants/{participantId}", chatH.RemoveParticipant)
			r.Post("/conversations/{id}/leave", chatH.Leave)
			r.Post("/conversations/{id}/read", chatH.MarkRead)
			r.Post("/conversations/{id}/typing", chatH.SetTyping)

			r.Post("/conversations/{id}/messages", msgH.Send)
			r.Put("/conversations/{id}/messages/{messageId}", msgH.Edit)
			r.Delete("/conversations/{id}/messages/{messageId}", msgH.Delete)
			r.Post("/conversations/{id}/messages/{messageId}/react", msgH.React)
			r.Post("/conversations/{id}/messages/{messageId}/read", msgH.MarkRead)

			r.Put("/profile", userH.UpdateProfile)
			r.Put("/settings", userH.UpdateSettings)
			r.Post("/online-users/refresh", userH.RefreshOnline)
		})

		r.Get("/conversations", chatH.List)
		r.Get("/conversations/{id}", chatH.Get)
		r.Get("/conversations/{id}/messages", msgH.List)
		r.Get("/conversations/{id}/typing", chatH.Typing)
		r.Get("/profile", userH.GetProfile)
		r.Get("/settings", userH.GetSettings)
		r.Get("/users/{id}", userH.GetUser)
		r.Get("/online-users", userH.Online)
	})
	return r
}
