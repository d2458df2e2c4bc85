package admin

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/chatgate/internal/http/handlers"
	"github.com/magabrotheeeer/chatgate/internal/http/response"
	"github.com/magabrotheeeer/chatgate/internal/models"
	"github.com/magabrotheeeer/chatgate/internal/services/accounts"
	"github.com/magabrotheeeer/chatgate/internal/services/credits"
	"github.com/magabrotheeeer/chatgate/internal/services/trials"
)

// Users описывает чтение пользователей.
type Users interface {
	ListUsers(ctx context.Context) ([]models.User, error)
	Stats(ctx context.Context) (accounts.Stats, error)
}

// Trials описывает чтение пробных периодов.
type Trials interface {
	Get(ctx context.Context, userID string) (models.TrialRecord, bool, error)
	Stats(ctx context.Context) (trials.Stats, error)
}

// Credits описывает чтение счетов.
type Credits interface {
	Get(ctx context.Context, userID string) (*models.CreditAccount, bool, error)
	Stats(ctx context.Context) (credits.Stats, error)
}

// UserRow строка списка пользователей.
type UserRow struct {
	handlers.UserView
	Credits   int  `json:"credits"`
	TrialUsed bool `json:"trial_used"`
}

// UsersHandler обрабатывает GET /admin/users.
type UsersHandler struct {
	log     *slog.Logger
	users   Users
	trials  Trials
	credits Credits
}

// NewUsers создает UsersHandler.
func NewUsers(log *slog.Logger, users Users, trials Trials, credits Credits) *UsersHandler {
	return &UsersHandler{log: log, users: users, trials: trials, credits: credits}
}

// ServeHTTP godoc
// @Summary Пользователи
// @Description Пользователи с балансом кредитов и отметкой пробного периода.
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=[]UserRow}
// @Failure 401 {object} response.ErrorResponse
// @Router /admin/users [get]
func (h *UsersHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.users"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	users, err := h.users.ListUsers(r.Context())
	if err != nil {
		handlers.WriteError(w, r, log, err)
		return
	}

	rows := make([]UserRow, 0, len(users))
	for i := range users {
		row := UserRow{UserView: handlers.NewUserView(&users[i])}
		acct, ok, err := h.credits.Get(r.Context(), users[i].ID)
		if err != nil {
			handlers.WriteError(w, r, log, err)
			return
		}
		if ok {
			row.Credits = acct.CurrentCredits
		}
		rec, ok, err := h.trials.Get(r.Context(), users[i].ID)
		if err != nil {
			handlers.WriteError(w, r, log, err)
			return
		}
		row.TrialUsed = ok && rec.Used
		rows = append(rows, row)
	}
	render.JSON(w, r, response.OKWithData(map[string]any{
		"users": rows,
		"total": len(rows),
	}))
}

// StatsResponse сводка по сервису.
type StatsResponse struct {
	Users         accounts.Stats `json:"users"`
	Trials        trials.Stats   `json:"trials"`
	Credits       credits.Stats  `json:"credits"`
	PendingOrders int            `json:"pending_orders"`
	GeneratedAt   time.Time      `json:"generated_at"`
}

// StatsHandler обрабатывает GET /admin/stats.
type StatsHandler struct {
	log     *slog.Logger
	users   Users
	trials  Trials
	credits Credits
	orders  Orders
}

// NewStats создает StatsHandler.
func NewStats(log *slog.Logger, users Users, trials Trials, credits Credits, orders Orders) *StatsHandler {
	return &StatsHandler{log: log, users: users, trials: trials, credits: credits, orders: orders}
}

// ServeHTTP godoc
// @Summary Статистика
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=StatsResponse}
// @Failure 401 {object} response.ErrorResponse
// @Router /admin/stats [get]
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.stats"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var (
		resp StatsResponse
		err  error
	)
	if resp.Users, err = h.users.Stats(r.Context()); err != nil {
		handlers.WriteError(w, r, log, err)
		return
	}
	if resp.Trials, err = h.trials.Stats(r.Context()); err != nil {
		handlers.WriteError(w, r, log, err)
		return
	}
	if resp.Credits, err = h.credits.Stats(r.Context()); err != nil {
		handlers.WriteError(w, r, log, err)
		return
	}
	pending, err := h.orders.ListPending(r.Context())
	if err != nil {
		handlers.WriteError(w, r, log, err)
		return
	}
	resp.PendingOrders = len(pending)
	resp.GeneratedAt = time.Now().UTC()

	render.JSON(w, r, response.OKWithData(resp))
}
