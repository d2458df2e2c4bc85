package middlewarectx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/chatgate/internal/http/response"
	"github.com/magabrotheeeer/chatgate/internal/lib/jwt"
	"github.com/magabrotheeeer/chatgate/internal/lib/sl"
)

// TokenParser проверяет bearer-токен.
type TokenParser interface {
	ParseToken(tokenStr string) (*jwt.Claims, error)
}

// AdminMiddleware пропускает только запросы с валидным токеном оператора
// и кладет его имя в контекст.
func AdminMiddleware(parser TokenParser, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.AdminMiddleware"
			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				log.Info("missing or invalid authorization header")
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("missing or invalid authorization header"))
				return
			}

			claims, err := parser.ParseToken(strings.TrimPrefix(authHeader, "Bearer "))
			if err != nil {
				log.Info("invalid or expired token", sl.Err(err))
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("invalid or expired token"))
				return
			}
			if !claims.IsAdmin() {
				log.Info("token without admin role", slog.String("username", claims.Username))
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, response.Error("admin access required"))
				return
			}

			ctx := context.WithValue(r.Context(), Admin, claims.Username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminFrom достает имя оператора, положенное AdminMiddleware.
func AdminFrom(ctx context.Context) string {
	name, _ := ctx.Value(Admin).(string)
	return name
}
