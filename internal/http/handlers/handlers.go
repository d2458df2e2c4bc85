// Package handlers содержит общие для HTTP-обработчиков функции:
// разбор запроса, сопоставление доменных ошибок кодам ответа
// и представления моделей без служебных полей.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/chatgate/internal/http/response"
	"github.com/magabrotheeeer/chatgate/internal/lib/sl"
	"github.com/magabrotheeeer/chatgate/internal/models"
	"github.com/magabrotheeeer/chatgate/internal/services/accounts"
	"github.com/magabrotheeeer/chatgate/internal/services/chat"
	"github.com/magabrotheeeer/chatgate/internal/services/credits"
	"github.com/magabrotheeeer/chatgate/internal/services/orders"
	"github.com/magabrotheeeer/chatgate/internal/services/trials"
)

var statuses = []struct {
	target error
	status int
}{
	{accounts.ErrDuplicateIdentifier, http.StatusConflict},
	{accounts.ErrInvalidCredentials, http.StatusUnauthorized},
	{accounts.ErrSessionNotFound, http.StatusUnauthorized},
	{credits.ErrInsufficientCredits, http.StatusPaymentRequired},
	{trials.ErrTrialIneligible, http.StatusForbidden},
	{chat.ErrUpgradeRequired, http.StatusForbidden},
	{accounts.ErrUserNotFound, http.StatusNotFound},
	{orders.ErrOrderNotFound, http.StatusNotFound},
	{orders.ErrOrderAlreadyReviewed, http.StatusConflict},
	{orders.ErrDuplicatePendingOrder, http.StatusConflict},
	{orders.ErrInvalidPlan, http.StatusUnprocessableEntity},
	{orders.ErrInvalidPeriod, http.StatusUnprocessableEntity},
	{accounts.ErrInvalidPlan, http.StatusUnprocessableEntity},
	{credits.ErrInvalidAmount, http.StatusUnprocessableEntity},
	{chat.ErrInvalidPrompt, http.StatusUnprocessableEntity},
}

// Status сопоставляет ошибку сервиса HTTP-коду и сообщению для клиента.
// Неизвестные ошибки скрываются за 500.
func Status(err error) (int, string) {
	var (
		dup        *accounts.DuplicateError
		ineligible *trials.IneligibleError
		upgrade    *chat.UpgradeError
	)
	switch {
	case errors.As(err, &dup):
		return http.StatusConflict, dup.Error()
	case errors.As(err, &ineligible):
		return http.StatusForbidden, ineligible.Error()
	case errors.As(err, &upgrade):
		return http.StatusForbidden, upgrade.Error()
	}
	for _, s := range statuses {
		if errors.Is(err, s.target) {
			return s.status, s.target.Error()
		}
	}
	return http.StatusInternalServerError, "internal error"
}

// Details дополнительные данные ответа для ошибок, по которым клиент может действовать.
func Details(err error) any {
	var (
		dup     *accounts.DuplicateError
		upgrade *chat.UpgradeError
	)
	switch {
	case errors.As(err, &dup):
		return map[string]any{
			"conflicts":   dup.Conflicts,
			"suggestions": dup.Suggestions,
		}
	case errors.As(err, &upgrade):
		return map[string]any{
			"days_until_next_trial": upgrade.DaysLeft,
			"upgrade_url":           chat.UpgradeURL,
		}
	}
	return nil
}

// WriteError логирует ошибку и отвечает кодом из Status.
func WriteError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	status, msg := Status(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", sl.Err(err))
	} else {
		log.Info("request rejected", slog.Int("status", status), sl.Err(err))
	}
	render.Status(r, status)
	render.JSON(w, r, response.ErrorWithData(msg, Details(err)))
}

// Decode разбирает JSON-тело в req и проверяет его валидатором.
// При ошибке ответ уже записан и возвращается false.
func Decode(w http.ResponseWriter, r *http.Request, log *slog.Logger, validate *validator.Validate, req any) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return false
	}
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			log.Error("validation failed", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("invalid request body"))
			return false
		}
		log.Info("validation failed", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(verrs))
		return false
	}
	return true
}

// UserView пользователь без хэша пароля.
type UserView struct {
	ID           string      `json:"id"`
	Username     string      `json:"username"`
	Email        string      `json:"email"`
	Phone        string      `json:"phone,omitempty"`
	Subscription models.Plan `json:"subscription"`
	TrialUsed    bool        `json:"trial_used"`
	ChatCount    int         `json:"chat_count"`
	CreatedAt    time.Time   `json:"created_at"`
	LastLogin    *time.Time  `json:"last_login,omitempty"`
}

// NewUserView строит представление пользователя.
func NewUserView(u *models.User) UserView {
	return UserView{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		Phone:        u.Phone,
		Subscription: u.Subscription,
		TrialUsed:    u.TrialUsed,
		ChatCount:    u.ChatCount,
		CreatedAt:    u.CreatedAt,
		LastLogin:    u.LastLogin,
	}
}
