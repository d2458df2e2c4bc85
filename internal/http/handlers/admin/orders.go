package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/chatgate/internal/http/handlers"
	"github.com/magabrotheeeer/chatgate/internal/http/middlewarectx"
	"github.com/magabrotheeeer/chatgate/internal/http/response"
	"github.com/magabrotheeeer/chatgate/internal/lib/sl"
	"github.com/magabrotheeeer/chatgate/internal/models"
)

// Orders описывает проверку заказов.
type Orders interface {
	ListPending(ctx context.Context) ([]models.Order, error)
	ListAll(ctx context.Context) ([]models.Order, error)
	Approve(ctx context.Context, orderID, reviewer, notes string) (*models.Order, error)
	Reject(ctx context.Context, orderID, reviewer, notes string) (*models.Order, error)
}

// OrdersHandler обрабатывает GET /admin/orders.
type OrdersHandler struct {
	log    *slog.Logger
	orders Orders
}

// NewOrders создает OrdersHandler.
func NewOrders(log *slog.Logger, orders Orders) *OrdersHandler {
	return &OrdersHandler{log: log, orders: orders}
}

// ServeHTTP godoc
// @Summary Заказы для проверки
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param status query string false "pending (по умолчанию) или all"
// @Success 200 {object} response.Response{data=[]models.Order}
// @Failure 401 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Router /admin/orders [get]
func (h *OrdersHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.orders"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var (
		list []models.Order
		err  error
	)
	switch r.URL.Query().Get("status") {
	case "", "pending":
		list, err = h.orders.ListPending(r.Context())
	case "all":
		list, err = h.orders.ListAll(r.Context())
	default:
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.Error("status must be pending or all"))
		return
	}
	if err != nil {
		handlers.WriteError(w, r, log, err)
		return
	}
	if list == nil {
		list = []models.Order{}
	}
	render.JSON(w, r, response.OKWithData(list))
}

// ReviewRequest необязательный комментарий оператора.
type ReviewRequest struct {
	Notes string `json:"notes"`
}

// Decision одобрение или отклонение.
type Decision int

const (
	Approve Decision = iota
	Reject
)

// ReviewHandler обрабатывает POST /admin/orders/{id}/approve и /reject.
type ReviewHandler struct {
	log      *slog.Logger
	orders   Orders
	decision Decision
}

// NewReview создает ReviewHandler для решения decision.
func NewReview(log *slog.Logger, orders Orders, decision Decision) *ReviewHandler {
	return &ReviewHandler{log: log, orders: orders, decision: decision}
}

// ServeHTTP godoc
// @Summary Решение по заказу
// @Description approve активирует план и кредиты пользователя, reject только закрывает заказ.
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "order_id"
// @Param request body ReviewRequest false "Комментарий"
// @Success 200 {object} response.Response{data=models.Order}
// @Failure 404 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse "Заказ уже проверен"
// @Failure 500 {object} response.ErrorResponse
// @Router /admin/orders/{id}/approve [post]
// @Router /admin/orders/{id}/reject [post]
func (h *ReviewHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.review"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	orderID := chi.URLParam(r, "id")
	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		log.Error("failed to decode request body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	reviewer := middlewarectx.AdminFrom(r.Context())
	var (
		order *models.Order
		err   error
	)
	if h.decision == Approve {
		order, err = h.orders.Approve(r.Context(), orderID, reviewer, req.Notes)
	} else {
		order, err = h.orders.Reject(r.Context(), orderID, reviewer, req.Notes)
	}
	if err != nil {
		handlers.WriteError(w, r, log, err)
		return
	}

	log.Info("order reviewed",
		slog.String("order_id", order.ID),
		slog.String("status", string(order.Status)),
		slog.String("reviewer", reviewer),
	)
	render.JSON(w, r, response.OKWithData(order))
}
