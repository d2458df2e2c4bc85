package chatgate

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	httpSwagger "github.com/swaggo/http-swagger"

	// swagger-описание API для /docs
	_ "github.com/magabrotheeeer/chatgate/docs"

	"github.com/magabrotheeeer/chatgate/internal/config"
	"github.com/magabrotheeeer/chatgate/internal/http/handlers/account"
	"github.com/magabrotheeeer/chatgate/internal/http/handlers/admin"
	"github.com/magabrotheeeer/chatgate/internal/http/handlers/auth"
	chathandler "github.com/magabrotheeeer/chatgate/internal/http/handlers/chat"
	"github.com/magabrotheeeer/chatgate/internal/http/handlers/health"
	ordershandler "github.com/magabrotheeeer/chatgate/internal/http/handlers/orders"
	"github.com/magabrotheeeer/chatgate/internal/http/middlewarectx"
)

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, cfg *config.Config, svc *Services, checks map[string]health.Check) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		svc.Metrics.Middleware,
	)

	cookie := auth.CookieOptions{Name: cfg.Sessions.Cookie, Secure: cfg.SecureCookie}
	limiter := middlewarectx.NewRateLimiter(cfg.RateLimit, cfg.RateBurst)

	r.Route("/api/v1", func(r chi.Router) {
		// Открытые конечные точки
		r.Post("/register", auth.NewRegister(logger, svc.Accounts).ServeHTTP)
		r.Get("/register/check", auth.NewCheck(logger, svc.Accounts).ServeHTTP)
		r.Post("/login", auth.NewLogin(logger, svc.Accounts, cookie).ServeHTTP)
		r.Post("/logout", auth.NewLogout(logger, svc.Accounts, cookie).ServeHTTP)
		r.Get("/plans", account.NewPlans(svc.Prices).ServeHTTP)

		// Группа с сессией пользователя
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.SessionMiddleware(svc.Accounts, cfg.Sessions.Cookie, logger))
			r.Get("/me", auth.NewMe(logger).ServeHTTP)
			r.Get("/trial", account.NewTrial(logger, svc.Trials).ServeHTTP)
			r.Get("/subscription", account.NewSubscription(logger, svc.Credits).ServeHTTP)
			r.Post("/orders", ordershandler.NewCreate(logger, svc.Orders).ServeHTTP)
			r.Get("/orders", ordershandler.NewList(logger, svc.Orders).ServeHTTP)
			r.With(limiter.Middleware(logger)).Post("/chat", chathandler.New(logger, svc.Chat).ServeHTTP)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/login", admin.NewLogin(logger, svc.Accounts, svc.Tokens, cfg.Admins).ServeHTTP)

			// Группа оператора с JWT
			r.Group(func(r chi.Router) {
				r.Use(middlewarectx.AdminMiddleware(svc.Tokens, logger))
				r.Get("/orders", admin.NewOrders(logger, svc.Orders).ServeHTTP)
				r.Post("/orders/{id}/approve", admin.NewReview(logger, svc.Orders, admin.Approve).ServeHTTP)
				r.Post("/orders/{id}/reject", admin.NewReview(logger, svc.Orders, admin.Reject).ServeHTTP)
				r.Get("/users", admin.NewUsers(logger, svc.Accounts, svc.Trials, svc.Credits).ServeHTTP)
				r.Get("/stats", admin.NewStats(logger, svc.Accounts, svc.Trials, svc.Credits, svc.Orders).ServeHTTP)
			})
		})
	})

	r.Get("/health", health.New(logger, checks).ServeHTTP)
	r.Handle("/metrics", svc.Metrics.Handler())
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
