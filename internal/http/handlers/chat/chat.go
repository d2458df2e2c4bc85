// Package chat реализует потоковый обработчик диалога с моделью.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/chatgate/internal/http/handlers"
	"github.com/magabrotheeeer/chatgate/internal/http/middlewarectx"
	"github.com/magabrotheeeer/chatgate/internal/http/response"
	"github.com/magabrotheeeer/chatgate/internal/lib/sl"
	"github.com/magabrotheeeer/chatgate/internal/models"
	chatservice "github.com/magabrotheeeer/chatgate/internal/services/chat"
)

// Service описывает шлюз чата.
type Service interface {
	Authorize(ctx context.Context, user *models.User, prompt string) (*chatservice.Turn, error)
	Stream(ctx context.Context, turn *chatservice.Turn, sink chatservice.Sink) error
}

// Request запрос пользователя к модели.
type Request struct {
	Prompt string `json:"prompt" validate:"required"`
}

// Handler обрабатывает POST /chat.
type Handler struct {
	log      *slog.Logger
	chat     Service
	validate *validator.Validate
}

// New создает Handler.
func New(log *slog.Logger, chat Service) *Handler {
	return &Handler{
		log:      log,
		chat:     chat,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Диалог с моделью
// @Description Проверяет доступ (пробный период или кредиты) и отдаёт ответ потоком
// @Description server-sent events: кадры "data: {json}", завершаемые "data: [DONE]".
// @Tags Chat
// @Accept json
// @Produce text/event-stream
// @Param request body Request true "Запрос"
// @Success 200 {string} string "Поток событий"
// @Failure 401 {object} response.ErrorResponse
// @Failure 402 {object} response.ErrorResponse "Недостаточно кредитов"
// @Failure 403 {object} response.Response "Пробный период недоступен"
// @Failure 422 {object} response.ErrorResponse
// @Failure 429 {object} response.ErrorResponse
// @Router /chat [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.chat"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	user, ok := middlewarectx.UserFrom(r.Context())
	if !ok {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("login required"))
		return
	}

	var req Request
	if !handlers.Decode(w, r, log, h.validate, &req) {
		return
	}

	turn, err := h.chat.Authorize(r.Context(), user, req.Prompt)
	if err != nil {
		handlers.WriteError(w, r, log, err)
		return
	}
	log.Info("chat authorized",
		slog.String("user_id", user.ID),
		slog.String("plan", string(turn.Plan)),
		slog.Int("debited", turn.Debited),
	)

	sink := chatservice.NewSSEWriter(w)
	err = h.chat.Stream(r.Context(), turn, sink)
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) || r.Context().Err() != nil {
		log.Info("client went away during stream", sl.Err(err))
		return
	}

	log.Error("chat stream failed", sl.Err(err))
	if sendErr := sink.Send(chatservice.ErrorEvent{Error: "the model is unavailable, please try again later", Type: "llm_error"}); sendErr != nil {
		return
	}
	_ = sink.Done()
}
