package app

import (
	"context"
	"net/http"

	"github.com/aliuyar1234/taskshift/internal/apperrors"
	"github.com/aliuyar1234/taskshift/internal/auth"
	"github.com/aliuyar1234/taskshift/internal/ipfilter"
	"github.com/aliuyar1234/taskshift/internal/metrics"
	"github.com/aliuyar1234/taskshift/internal/orgs"
	"github.com/aliuyar1234/taskshift/internal/tasks"
	"github.com/aliuyar1234/taskshift/internal/verification"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Services are the handlers' collaborators.
type Services struct {
	Auth         *auth.Service
	Users        auth.UserLookup
	Verification *verification.Service
	Orgs         *orgs.Service
	Tasks        *tasks.Service
	AuditReader  orgs.AuditLister
	Blocklist    ipfilter.Blocklist
	Metrics      *metrics.Metrics
	// Ready reports whether the backing store is reachable.
	Ready func(ctx context.Context) error
}

// RouterOptions are the router's environment-dependent settings.
type RouterOptions struct {
	FrontendURL   string
	ExposeDetails bool
	// TrustedProxies may set the client address through forwarding headers.
	TrustedProxies ipfilter.Proxies
}

// NewRouter creates and configures the Chi router with all middleware and routes
func NewRouter(svc Services, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RealIP(opts.TrustedProxies))
	r.Use(apperrors.RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)
	r.Use(ipfilter.Middleware(svc.Blocklist, svc.Metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{opts.FrontendURL},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", apperrors.RequestIDHeader},
		ExposedHeaders:   []string{apperrors.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if svc.Metrics != nil {
		r.Use(svc.Metrics.Middleware)
	}
	r.Use(MaxBytesMiddleware(MaxBodyBytes))
	r.Use(apperrors.ExposeDetails(opts.ExposeDetails))
	r.Use(auth.AuthMiddleware(svc.Auth.Tokens(), svc.Users, svc.Metrics))

	r.Get("/healthz", handleHealthz)
	r.Get("/readyz", handleReadyz(svc.Ready))
	if svc.Metrics != nil {
		r.Handle("/metrics", svc.Metrics.Handler())
	}

	authLimit := AuthRateLimit(svc.Metrics)
	emailLimit := EmailRateLimit(svc.Metrics)
	// One limiter shared by the organization and task routes.
	apiLimit := APIRateLimit(svc.Metrics)
	verified := chi.Chain(auth.RequireAuth, auth.RequireVerified)

	r.Route("/api", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(GlobalRateLimit(svc.Metrics))

		r.Route("/auth", func(r chi.Router) {
			r.With(authLimit).Post("/register", auth.HandleRegister(svc.Auth))
			r.With(authLimit).Post("/login", auth.HandleLogin(svc.Auth))
			r.With(auth.RequireAuth).Post("/logout", auth.HandleLogout(svc.Auth))
			r.With(verified...).Get("/me", auth.HandleMe(svc.Auth))

			r.With(emailLimit).Post("/send-verification", verification.HandleSend(svc.Verification))
			r.With(emailLimit).Post("/resend-verification", verification.HandleSend(svc.Verification))
			r.Post("/verify-email", verification.HandleVerify(svc.Verification))
			r.Get("/verification-status", verification.HandleStatus(svc.Verification))
		})

		r.Route("/organizations", func(r chi.Router) {
			r.Use(apiLimit)

			r.With(authLimit).Post("/activate-invitation-with-registration", orgs.HandleActivateWithRegistration(svc.Orgs))

			r.Group(func(r chi.Router) {
				r.Use(verified...)

				r.Post("/", orgs.HandleCreate(svc.Orgs))
				r.Get("/", orgs.HandleList(svc.Orgs))
				r.Get("/my-organizations", orgs.HandleListMine(svc.Orgs))
				r.Get("/me", orgs.HandleGetCurrent(svc.Orgs))
				r.Get("/members", orgs.HandleListMembers(svc.Orgs))
				r.Post("/join", orgs.HandleJoin(svc.Orgs))
				r.Post("/set-current", orgs.HandleSetCurrent(svc.Orgs))
				r.With(emailLimit).Post("/invite", orgs.HandleInvite(svc.Orgs))
				r.Post("/activate-invitation", orgs.HandleActivate(svc.Orgs))

				r.Get("/{id}", orgs.HandleGet(svc.Orgs))
				r.Delete("/{id}/leave", orgs.HandleLeave(svc.Orgs))
				r.Patch("/{id}/members/{user_id}", orgs.HandleUpdateMember(svc.Orgs))
				if svc.AuditReader != nil {
					r.Get("/{id}/audit", orgs.HandleListAudit(svc.Orgs, svc.AuditReader))
				}
			})
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Use(apiLimit)
			r.Use(verified...)

			r.Post("/", tasks.HandleCreate(svc.Tasks))
			r.Get("/", tasks.HandleList(svc.Tasks))
			r.Get("/assigned", tasks.HandleListAssigned(svc.Tasks))
			r.Get("/{id}", tasks.HandleGet(svc.Tasks))
			r.Put("/{id}", tasks.HandleUpdate(svc.Tasks))
			r.Delete("/{id}", tasks.HandleDelete(svc.Tasks))
		})
	})

	return r
}

// handleHealthz returns a simple liveness check
// Always returns 200 OK if the service is running
func handleHealthz(w http.ResponseWriter, r *http.Request) {
	apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

// handleReadyz returns a readiness check that includes database connectivity
// Returns 200 OK if service is ready to accept traffic, 503 if not
func handleReadyz(ready func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				apperrors.WriteServiceUnavailable(w, r, "Database connection failed")
				return
			}
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"status": "ready",
			"db":     "ok",
		})
	}
}
