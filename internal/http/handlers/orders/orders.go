// Package orders реализует обработчики заказов пользователя.
package orders

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/chatgate/internal/http/handlers"
	"github.com/magabrotheeeer/chatgate/internal/http/middlewarectx"
	"github.com/magabrotheeeer/chatgate/internal/http/response"
	"github.com/magabrotheeeer/chatgate/internal/models"
	orderservice "github.com/magabrotheeeer/chatgate/internal/services/orders"
)

// Service описывает заказы пользователя.
type Service interface {
	Submit(ctx context.Context, in orderservice.SubmitInput) (*models.Order, error)
	ListByUser(ctx context.Context, userID string) ([]models.Order, error)
}

// CreateRequest заказ плана.
type CreateRequest struct {
	Plan   string `json:"plan" validate:"required,oneof=basic pro custom"`
	Period string `json:"period" validate:"omitempty,oneof=monthly yearly"`
}

// CreateHandler обрабатывает POST /orders.
type CreateHandler struct {
	log      *slog.Logger
	orders   Service
	validate *validator.Validate
}

// NewCreate создает CreateHandler.
func NewCreate(log *slog.Logger, orders Service) *CreateHandler {
	return &CreateHandler{
		log:      log,
		orders:   orders,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Заказ платного плана
// @Description Создает заказ в статусе pending. План активируется после одобрения оператором.
// @Tags Orders
// @Accept json
// @Produce json
// @Param request body CreateRequest true "План и период"
// @Success 201 {object} response.Response{data=models.Order}
// @Failure 401 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse "Уже есть ожидающий заказ на этот план"
// @Failure 422 {object} response.ErrorResponse
// @Router /orders [post]
func (h *CreateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.orders.create"

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

	var req CreateRequest
	if !handlers.Decode(w, r, log, h.validate, &req) {
		return
	}

	order, err := h.orders.Submit(r.Context(), orderservice.SubmitInput{
		UserID: user.ID,
		Plan:   models.Plan(req.Plan),
		Period: models.BillingPeriod(req.Period),
	})
	if err != nil {
		handlers.WriteError(w, r, log, err)
		return
	}

	log.Info("order submitted", slog.String("order_id", order.ID))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.OKWithData(order))
}

// ListHandler обрабатывает GET /orders.
type ListHandler struct {
	log    *slog.Logger
	orders Service
}

// NewList создает ListHandler.
func NewList(log *slog.Logger, orders Service) *ListHandler {
	return &ListHandler{log: log, orders: orders}
}

// ServeHTTP godoc
// @Summary Заказы пользователя
// @Tags Orders
// @Produce json
// @Success 200 {object} response.Response{data=[]models.Order}
// @Failure 401 {object} response.ErrorResponse
// @Router /orders [get]
func (h *ListHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.orders.list"

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

	list, err := h.orders.ListByUser(r.Context(), user.ID)
	if err != nil {
		handlers.WriteError(w, r, log, err)
		return
	}
	if list == nil {
		list = []models.Order{}
	}
	render.JSON(w, r, response.OKWithData(list))
}
