package auth

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/chatgate/internal/http/handlers"
	"github.com/magabrotheeeer/chatgate/internal/http/middlewarectx"
	"github.com/magabrotheeeer/chatgate/internal/http/response"
	"github.com/magabrotheeeer/chatgate/internal/lib/sl"
	"github.com/magabrotheeeer/chatgate/internal/models"
)

// Sessions описывает вход и управление сессиями.
type Sessions interface {
	Authenticate(ctx context.Context, identifier, password string) (*models.User, error)
	CreateSession(ctx context.Context, userID string) (models.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// CookieOptions параметры cookie сессии.
type CookieOptions struct {
	Name   string
	Secure bool
}

// LoginRequest учетные данные. Username принимает имя или почту.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginHandler обрабатывает POST /login.
type LoginHandler struct {
	log      *slog.Logger
	sessions Sessions
	cookie   CookieOptions
	validate *validator.Validate
}

// NewLogin создает LoginHandler.
func NewLogin(log *slog.Logger, sessions Sessions, cookie CookieOptions) *LoginHandler {
	return &LoginHandler{
		log:      log,
		sessions: sessions,
		cookie:   cookie,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Вход пользователя
// @Description Проверяет имя или почту и пароль, устанавливает cookie session_id.
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Учетные данные"
// @Success 200 {object} response.Response
// @Failure 401 {object} response.ErrorResponse "Неверные учетные данные"
// @Failure 422 {object} response.ErrorResponse
// @Router /login [post]
func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.login"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req LoginRequest
	if !handlers.Decode(w, r, log, h.validate, &req) {
		return
	}

	user, err := h.sessions.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		handlers.WriteError(w, r, log, err)
		return
	}

	session, err := h.sessions.CreateSession(r.Context(), user.ID)
	if err != nil {
		handlers.WriteError(w, r, log, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    session.ID,
		Path:     "/",
		Expires:  session.ExpiresAt,
		MaxAge:   int(time.Until(session.ExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	log.Info("login success", slog.String("user_id", user.ID))
	render.JSON(w, r, response.OKWithData(handlers.NewUserView(user)))
}

// LogoutHandler обрабатывает POST /logout.
type LogoutHandler struct {
	log      *slog.Logger
	sessions Sessions
	cookie   CookieOptions
}

// NewLogout создает LogoutHandler.
func NewLogout(log *slog.Logger, sessions Sessions, cookie CookieOptions) *LogoutHandler {
	return &LogoutHandler{log: log, sessions: sessions, cookie: cookie}
}

// ServeHTTP godoc
// @Summary Выход
// @Description Удаляет сессию и cookie. Повторный выход не ошибка.
// @Tags Auth
// @Produce json
// @Success 200 {object} response.Response
// @Router /logout [post]
func (h *LogoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.logout"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	if cookie, err := r.Cookie(h.cookie.Name); err == nil && cookie.Value != "" {
		if err := h.sessions.DeleteSession(r.Context(), cookie.Value); err != nil {
			log.Error("failed to delete session", sl.Err(err))
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	render.JSON(w, r, response.OK())
}

// MeHandler обрабатывает GET /me.
type MeHandler struct {
	log *slog.Logger
}

// NewMe создает MeHandler.
func NewMe(log *slog.Logger) *MeHandler {
	return &MeHandler{log: log}
}

// ServeHTTP godoc
// @Summary Текущий пользователь
// @Tags Auth
// @Produce json
// @Success 200 {object} response.Response
// @Failure 401 {object} response.ErrorResponse
// @Router /me [get]
func (h *MeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, ok := middlewarectx.UserFrom(r.Context())
	if !ok {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("login required"))
		return
	}
	render.JSON(w, r, response.OKWithData(handlers.NewUserView(user)))
}
