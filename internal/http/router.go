package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"github.com/clouddrive/server/internal/http/handlers"
	"github.com/clouddrive/server/internal/middleware"
)

// RouterConfig carries the settings the router needs from config.Config.
type RouterConfig struct {
	Env            string
	Development    bool
	AllowedOrigins []string
}

type routeLimit struct {
	requests int
	window   time.Duration
	message  string
}

var (
	authLimit = routeLimit{10, 15 * time.Minute, "Too many attempts, please try again later"}
	otpLimit  = routeLimit{5, 5 * time.Minute, "Too many OTP requests, please try again later"}
)

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(cfg RouterConfig, authHandler *handlers.AuthHandler, verifier middleware.TokenVerifier, logger *zap.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc:  originAllowed(cfg.AllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Cookie"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.NotFound(handlers.HandleNotFound)

	healthHandler := handlers.NewHealthHandler(cfg.Env, cfg.AllowedOrigins)
	r.Get("/", healthHandler.HandleRoot)

	authLimiter := limiter(authLimit, cfg.Development)
	otpLimiter := limiter(otpLimit, cfg.Development)
	requireAuth := middleware.AuthMiddleware(verifier)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", healthHandler.ServeHTTP)

		r.Route("/auth", func(r chi.Router) {
			r.With(authLimiter).Post("/register", authHandler.HandleRegister)
			r.With(authLimiter).Post("/login", authHandler.HandleLogin)
			r.With(otpLimiter).Post("/forgot-password", authHandler.HandleForgotPassword)
			r.With(authLimiter).Post("/reset-password", authHandler.HandleResetPassword)
			r.With(authLimiter).Post("/verify-email", authHandler.HandleVerifyEmail)
			r.With(otpLimiter).Post("/resend-email-otp", authHandler.HandleResendEmailOTP)
			r.Post("/logout", authHandler.HandleLogout)
			r.Post("/admin/fix-unverified-users", authHandler.HandleFixUnverifiedUsers)

			// Protected routes (require valid session token)
			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Get("/me", authHandler.HandleMe)
				r.With(otpLimiter).Post("/phone/send-otp", authHandler.HandleSendPhoneOTP)
				r.With(otpLimiter).Post("/phone/verify", authHandler.HandleVerifyPhone)
			})
		})

		r.With(requireAuth).Get("/activity", authHandler.HandleListActivity)
	})

	return r
}

// limiter builds a per-IP limit; development multiplies the budget by ten.
func limiter(l routeLimit, development bool) func(http.Handler) http.Handler {
	requests := l.requests
	if development {
		requests *= 10
	}
	return httprate.Limit(requests, l.window,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"message":"` + l.message + `"}`))
		}),
	)
}

// originAllowed accepts the configured origins and any Vercel preview deployment.
// Requests without an Origin header never reach this check.
func originAllowed(allowed []string) func(*http.Request, string) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(_ *http.Request, origin string) bool {
		if _, ok := set[strings.TrimRight(origin, "/")]; ok {
			return true
		}
		return strings.HasPrefix(origin, "https://") && strings.HasSuffix(origin, ".vercel.app")
	}
}
