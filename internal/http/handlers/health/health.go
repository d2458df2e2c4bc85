// Package health отдает состояние сервиса и его зависимостей.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/chatgate/internal/http/response"
	"github.com/magabrotheeeer/chatgate/internal/lib/sl"
)

// Check проверка одной зависимости.
type Check func(ctx context.Context) error

// Handler обрабатывает GET /health.
type Handler struct {
	log     *slog.Logger
	checks  map[string]Check
	timeout time.Duration
}

// New создает Handler. checks могут быть пустыми.
func New(log *slog.Logger, checks map[string]Check) *Handler {
	return &Handler{
		log:     log,
		checks:  checks,
		timeout: 2 * time.Second,
	}
}

// ServeHTTP godoc
// @Summary Состояние сервиса
// @Tags Health
// @Produce json
// @Success 200 {object} response.Response
// @Failure 503 {object} response.Response
// @Router /health [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := make(map[string]string, len(h.checks)+1)
	status["status"] = "ok"
	healthy := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.log.Warn("health check failed", slog.String("dependency", name), sl.Err(err))
			status[name] = "unavailable"
			healthy = false
			continue
		}
		status[name] = "ok"
	}

	if !healthy {
		status["status"] = "degraded"
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, response.ErrorWithData("dependency unavailable", status))
		return
	}
	render.JSON(w, r, response.OKWithData(status))
}
