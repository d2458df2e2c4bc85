// Package account реализует обработчики состояния пользователя:
// пробный период, план с кредитами и каталог планов.
package account

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/chatgate/internal/http/handlers"
	"github.com/magabrotheeeer/chatgate/internal/http/middlewarectx"
	"github.com/magabrotheeeer/chatgate/internal/http/response"
	"github.com/magabrotheeeer/chatgate/internal/models"
	"github.com/magabrotheeeer/chatgate/internal/services/credits"
	"github.com/magabrotheeeer/chatgate/internal/services/orders"
	"github.com/magabrotheeeer/chatgate/internal/services/trials"
)

// Trials описывает чтение журнала пробных периодов.
type Trials interface {
	State(ctx context.Context, userID string) (trials.State, *models.TrialRecord, error)
	DaysUntilNextTrial(ctx context.Context, userID string) (int, error)
}

// Credits описывает чтение кредитного счёта.
type Credits interface {
	DailyRefresh(ctx context.Context, userID string) (bool, error)
	Ensure(ctx context.Context, userID string) (*models.CreditAccount, error)
}

// TrialResponse состояние пробного периода.
type TrialResponse struct {
	State              trials.State        `json:"state"`
	Record             *models.TrialRecord `json:"record,omitempty"`
	DaysUntilNextTrial int                 `json:"days_until_next_trial"`
}

// TrialHandler обрабатывает GET /trial.
type TrialHandler struct {
	log    *slog.Logger
	trials Trials
}

// NewTrial создает TrialHandler.
func NewTrial(log *slog.Logger, trials Trials) *TrialHandler {
	return &TrialHandler{log: log, trials: trials}
}

// ServeHTTP godoc
// @Summary Состояние пробного периода
// @Tags Account
// @Produce json
// @Success 200 {object} response.Response{data=TrialResponse}
// @Failure 401 {object} response.ErrorResponse
// @Router /trial [get]
func (h *TrialHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.account.trial"

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

	state, rec, err := h.trials.State(r.Context(), user.ID)
	if err != nil {
		handlers.WriteError(w, r, log, err)
		return
	}
	resp := TrialResponse{State: state, Record: rec}
	if state == trials.StateExhausted {
		if resp.DaysUntilNextTrial, err = h.trials.DaysUntilNextTrial(r.Context(), user.ID); err != nil {
			handlers.WriteError(w, r, log, err)
			return
		}
	}
	render.JSON(w, r, response.OKWithData(resp))
}

// SubscriptionResponse план пользователя и его счёт.
type SubscriptionResponse struct {
	Plan    models.Plan           `json:"subscription"`
	Credits *models.CreditAccount `json:"credits"`
}

// SubscriptionHandler обрабатывает GET /subscription.
type SubscriptionHandler struct {
	log     *slog.Logger
	credits Credits
}

// NewSubscription создает SubscriptionHandler.
func NewSubscription(log *slog.Logger, credits Credits) *SubscriptionHandler {
	return &SubscriptionHandler{log: log, credits: credits}
}

// ServeHTTP godoc
// @Summary План и кредиты
// @Description Для платных планов сначала выполняет суточное пополнение.
// @Tags Account
// @Produce json
// @Success 200 {object} response.Response{data=SubscriptionResponse}
// @Failure 401 {object} response.ErrorResponse
// @Router /subscription [get]
func (h *SubscriptionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.account.subscription"

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

	if user.Subscription.Paid() {
		if _, err := h.credits.DailyRefresh(r.Context(), user.ID); err != nil {
			handlers.WriteError(w, r, log, err)
			return
		}
	}
	acct, err := h.credits.Ensure(r.Context(), user.ID)
	if err != nil {
		handlers.WriteError(w, r, log, err)
		return
	}
	render.JSON(w, r, response.OKWithData(SubscriptionResponse{Plan: user.Subscription, Credits: acct}))
}

// PlanOffer цена и лимиты платного плана.
type PlanOffer struct {
	Plan     models.Plan         `json:"plan"`
	Monthly  float64             `json:"monthly"`
	Yearly   float64             `json:"yearly"`
	Currency string              `json:"currency"`
	Limits   models.PlanTemplate `json:"limits"`
}

// PlansHandler обрабатывает GET /plans.
type PlansHandler struct {
	offers []PlanOffer
}

// NewPlans строит каталог из цен.
func NewPlans(prices orders.Prices) *PlansHandler {
	plans := models.PaidPlans()
	offers := make([]PlanOffer, 0, len(plans))
	for _, p := range plans {
		offers = append(offers, PlanOffer{
			Plan:     p,
			Monthly:  prices.Price(p, models.PeriodMonthly),
			Yearly:   prices.Price(p, models.PeriodYearly),
			Currency: prices.Currency,
			Limits:   credits.Template(p),
		})
	}
	return &PlansHandler{offers: offers}
}

// ServeHTTP godoc
// @Summary Каталог платных планов
// @Tags Account
// @Produce json
// @Success 200 {object} response.Response{data=[]PlanOffer}
// @Router /plans [get]
func (h *PlansHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, response.OKWithData(h.offers))
}
