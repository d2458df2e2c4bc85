// Package auth реализует HTTP-обработчики регистрации, входа, выхода
// и профиля текущего пользователя. Вход выдаёт cookie сессии.
package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/chatgate/internal/http/handlers"
	"github.com/magabrotheeeer/chatgate/internal/http/response"
	"github.com/magabrotheeeer/chatgate/internal/models"
	"github.com/magabrotheeeer/chatgate/internal/services/accounts"
)

// Registrar описывает регистрацию и предварительную проверку идентификаторов.
type Registrar interface {
	Register(ctx context.Context, in accounts.RegisterInput) (*models.User, error)
	ValidateRegistration(ctx context.Context, username, email, phone string) (accounts.Validation, error)
}

// RegisterRequest входные данные регистрации.
type RegisterRequest struct {
	Username        string `json:"username" validate:"required,min=3,max=50"`
	Email           string `json:"email" validate:"required,email"`
	Phone           string `json:"phone" validate:"omitempty,min=10,max=20"`
	Password        string `json:"password" validate:"required,min=6"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
}

// RegisterHandler обрабатывает POST /register.
type RegisterHandler struct {
	log      *slog.Logger
	accounts Registrar
	validate *validator.Validate
}

// NewRegister создает RegisterHandler.
func NewRegister(log *slog.Logger, accounts Registrar) *RegisterHandler {
	return &RegisterHandler{
		log:      log,
		accounts: accounts,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Регистрация пользователя
// @Description Создает пользователя. При занятом имени возвращает свободные варианты.
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Данные регистрации"
// @Success 201 {object} response.Response
// @Failure 400 {object} response.ErrorResponse
// @Failure 409 {object} response.Response "Имя, почта или телефон заняты"
// @Failure 422 {object} response.ErrorResponse
// @Router /register [post]
func (h *RegisterHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.register"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req RegisterRequest
	if !handlers.Decode(w, r, log, h.validate, &req) {
		return
	}

	user, err := h.accounts.Register(r.Context(), accounts.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Phone:    req.Phone,
		Password: req.Password,
	})
	if err != nil {
		handlers.WriteError(w, r, log, err)
		return
	}

	log.Info("user registered", slog.String("user_id", user.ID))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.OKWithData(handlers.NewUserView(user)))
}

// CheckHandler обрабатывает GET /register/check.
type CheckHandler struct {
	log      *slog.Logger
	accounts Registrar
}

// NewCheck создает CheckHandler.
func NewCheck(log *slog.Logger, accounts Registrar) *CheckHandler {
	return &CheckHandler{log: log, accounts: accounts}
}

// ServeHTTP godoc
// @Summary Проверка идентификаторов
// @Description Сообщает, свободны ли имя, почта и телефон, и предлагает варианты имени.
// @Tags Auth
// @Produce json
// @Param username query string false "Имя"
// @Param email query string false "Почта"
// @Param phone query string false "Телефон"
// @Success 200 {object} response.Response
// @Router /register/check [get]
func (h *CheckHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.check"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	q := r.URL.Query()
	v, err := h.accounts.ValidateRegistration(r.Context(), q.Get("username"), q.Get("email"), q.Get("phone"))
	if err != nil {
		handlers.WriteError(w, r, log, err)
		return
	}
	render.JSON(w, r, response.OKWithData(v))
}
