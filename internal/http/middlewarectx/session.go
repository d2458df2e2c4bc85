// Package middlewarectx содержит HTTP middleware, которые проверяют доступ
// к маршрутам и кладут данные вызывающего в контекст запроса.
//
// SessionMiddleware находит пользователя по cookie сессии, AdminMiddleware
// проверяет bearer-токен оператора, RateLimiter ограничивает частоту запросов
// каждого клиента.
package middlewarectx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/chatgate/internal/http/response"
	"github.com/magabrotheeeer/chatgate/internal/lib/sl"
	"github.com/magabrotheeeer/chatgate/internal/models"
	"github.com/magabrotheeeer/chatgate/internal/services/accounts"
)

// Key тип для ключей контекста HTTP-запроса.
type Key string

const (
	// User ключ для *models.User в контексте.
	User Key = "user"
	// Admin ключ для имени оператора в контексте.
	Admin Key = "admin"
)

// SessionResolver находит пользователя по идентификатору сессии.
type SessionResolver interface {
	ResolveSession(ctx context.Context, sessionID string) (*models.User, error)
}

// SessionMiddleware пропускает запрос только с действующей cookie сессии.
func SessionMiddleware(resolver SessionResolver, cookieName string, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.SessionMiddleware"
			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			cookie, err := r.Cookie(cookieName)
			if err != nil || cookie.Value == "" {
				log.Info("missing session cookie")
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("login required"))
				return
			}

			user, err := resolver.ResolveSession(r.Context(), cookie.Value)
			if err != nil {
				if errors.Is(err, accounts.ErrSessionNotFound) || errors.Is(err, accounts.ErrUserNotFound) {
					log.Info("session rejected", sl.Err(err))
					render.Status(r, http.StatusUnauthorized)
					render.JSON(w, r, response.Error("session expired, please log in again"))
					return
				}
				log.Error("failed to resolve session", sl.Err(err))
				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, response.Error("internal error"))
				return
			}

			ctx := context.WithValue(r.Context(), User, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFrom достает пользователя, положенного SessionMiddleware.
func UserFrom(ctx context.Context) (*models.User, bool) {
	u, ok := ctx.Value(User).(*models.User)
	return u, ok && u != nil
}

// WithUser кладет пользователя в контекст.
func WithUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, User, u)
}
