// Package admin реализует обработчики оператора: вход, проверку заказов,
// список пользователей и сводную статистику.
package admin

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/chatgate/internal/http/handlers"
	"github.com/magabrotheeeer/chatgate/internal/http/response"
	"github.com/magabrotheeeer/chatgate/internal/lib/jwt"
	"github.com/magabrotheeeer/chatgate/internal/lib/sl"
	"github.com/magabrotheeeer/chatgate/internal/models"
)

// Authenticator проверяет учетные данные.
type Authenticator interface {
	Authenticate(ctx context.Context, identifier, password string) (*models.User, error)
}

// TokenMaker выпускает токен оператора.
type TokenMaker interface {
	GenerateToken(username, role string) (string, error)
}

// LoginRequest учетные данные оператора.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginHandler обрабатывает POST /admin/login.
type LoginHandler struct {
	log      *slog.Logger
	auth     Authenticator
	tokens   TokenMaker
	admins   map[string]struct{}
	validate *validator.Validate
}

// NewLogin создает LoginHandler. admins имена пользователей с правами оператора.
func NewLogin(log *slog.Logger, auth Authenticator, tokens TokenMaker, admins []string) *LoginHandler {
	set := make(map[string]struct{}, len(admins))
	for _, a := range admins {
		set[strings.ToLower(a)] = struct{}{}
	}
	return &LoginHandler{
		log:      log,
		auth:     auth,
		tokens:   tokens,
		admins:   set,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Вход оператора
// @Description Проверяет учетные данные пользователя из списка операторов и выдает bearer-токен.
// @Tags Admin
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Учетные данные"
// @Success 200 {object} response.Response
// @Failure 401 {object} response.ErrorResponse
// @Failure 403 {object} response.ErrorResponse
// @Router /admin/login [post]
func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.login"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req LoginRequest
	if !handlers.Decode(w, r, log, h.validate, &req) {
		return
	}

	user, err := h.auth.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		handlers.WriteError(w, r, log, err)
		return
	}
	if _, ok := h.admins[strings.ToLower(user.Username)]; !ok {
		log.Warn("admin login denied", slog.String("username", user.Username))
		render.Status(r, http.StatusForbidden)
		render.JSON(w, r, response.Error("admin access required"))
		return
	}

	token, err := h.tokens.GenerateToken(user.Username, jwt.RoleAdmin)
	if err != nil {
		log.Error("failed to issue token", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	log.Info("admin logged in", slog.String("username", user.Username))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"token":    token,
		"username": user.Username,
	}))
}
