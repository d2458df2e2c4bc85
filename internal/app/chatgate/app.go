// Package chatgate собирает HTTP-сервис чата из хранилища, сервисов и обработчиков.
package chatgate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/chatgate/internal/cache"
	"github.com/magabrotheeeer/chatgate/internal/config"
	"github.com/magabrotheeeer/chatgate/internal/http/handlers/health"
	"github.com/magabrotheeeer/chatgate/internal/lib/jwt"
	"github.com/magabrotheeeer/chatgate/internal/lib/llm"
	"github.com/magabrotheeeer/chatgate/internal/lib/lock"
	"github.com/magabrotheeeer/chatgate/internal/lib/metrics"
	"github.com/magabrotheeeer/chatgate/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/chatgate/internal/lib/sl"
	"github.com/magabrotheeeer/chatgate/internal/migrations"
	"github.com/magabrotheeeer/chatgate/internal/models"
	"github.com/magabrotheeeer/chatgate/internal/services/accounts"
	"github.com/magabrotheeeer/chatgate/internal/services/chat"
	"github.com/magabrotheeeer/chatgate/internal/services/credits"
	"github.com/magabrotheeeer/chatgate/internal/services/orders"
	"github.com/magabrotheeeer/chatgate/internal/services/trials"
	"github.com/magabrotheeeer/chatgate/internal/storage/jsonfile"
	"github.com/magabrotheeeer/chatgate/internal/storage/postgresql"
)

// Store хранилище всех сущностей сервиса.
type Store interface {
	accounts.UserRepository
	accounts.SessionRepository
	trials.Repository
	credits.Repository
	orders.Repository
}

// Services собранные сервисы предметной области.
type Services struct {
	Accounts *accounts.Service
	Trials   *trials.Service
	Credits  *credits.Service
	Orders   *orders.Service
	Chat     *chat.Service
	Tokens   *jwt.MakerImpl
	Metrics  *metrics.Metrics
	Prices   orders.Prices
}

// App HTTP-сервис чата.
type App struct {
	server  *http.Server
	logger  *slog.Logger
	closers []io.Closer
}

// New поднимает хранилище, блокировки, публикацию событий и сервисы по конфигу.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "chatgate.New"
	a := &App{logger: logger}

	store, checks, err := a.openStore(ctx, cfg)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var redisCache *cache.Cache
	if cfg.UsesRedis() {
		redisCache, err = cache.InitServer(ctx, cfg.RedisConnection)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		a.closers = append(a.closers, redisCache)
		checks["redis"] = func(ctx context.Context) error { return redisCache.Db.Ping(ctx).Err() }
	}

	var locker lock.Locker = lock.NewLocal()
	if cfg.Lock.Driver == "redis" {
		locker = lock.NewRedis(redisCache.Db, cfg.Lock.Expiry, cfg.Lock.Tries, logger)
	}

	var sessions accounts.SessionRepository = store
	if cfg.Sessions.Driver == "redis" {
		sessions = cache.NewSessionStore(redisCache)
	}

	m := metrics.New()
	publishers := orders.Publishers{m}
	if cfg.RabbitMQURL != "" {
		conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		a.closers = append(a.closers, conn)
		ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetOrderQueues())
		if err != nil {
			a.close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		publishers = append(publishers, rabbitmq.NewOrderPublisher(ch))
		checks["rabbitmq"] = func(context.Context) error {
			if conn.IsClosed() {
				return amqp.ErrClosed
			}
			return nil
		}
	} else {
		logger.Warn("rabbitmq url is not set, order events are not delivered to the notifier")
	}

	svc := buildServices(cfg, store, sessions, locker, m, publishers, logger)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, cfg, svc, checks)

	a.server = &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg *config.Config) (Store, map[string]health.Check, error) {
	checks := map[string]health.Check{}
	switch cfg.Storage.Driver {
	case "postgres":
		pg, err := postgresql.New(ctx, cfg.StorageConnectionString)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, pg)
		if err := migrations.Run(pg.DB, cfg.MigrationsPath); err != nil {
			return nil, nil, err
		}
		checks["storage"] = pg.DB.PingContext
		return pg, checks, nil
	default:
		js, err := jsonfile.New(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return js, checks, nil
	}
}

func buildServices(
	cfg *config.Config,
	store Store,
	sessions accounts.SessionRepository,
	locker lock.Locker,
	m *metrics.Metrics,
	publishers orders.Publishers,
	logger *slog.Logger,
) *Services {
	prices := Prices(cfg.Pricing)

	accountService := accounts.New(store, sessions, locker, cfg.Sessions.TTL, logger)
	trialService := trials.New(store, locker, logger)
	creditService := credits.New(store, locker, logger)
	orderService := orders.New(store, accountService, creditService, publishers, locker, prices, logger)

	asker := llm.NewClient(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.LLM.Timeout)
	chatService := chat.New(asker, accountService, trialService, creditService, m, chat.Options{
		Cost:           cfg.CreditCost,
		MaxPromptRunes: cfg.MaxPromptRunes,
		WordDelay:      cfg.WordDelay,
		Offers:         Offers(prices),
	}, logger)

	return &Services{
		Accounts: accountService,
		Trials:   trialService,
		Credits:  creditService,
		Orders:   orderService,
		Chat:     chatService,
		Tokens:   jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL),
		Metrics:  m,
		Prices:   prices,
	}
}

// Prices переводит цены из конфига в каталог заказов.
func Prices(p config.Pricing) orders.Prices {
	return orders.Prices{
		Currency: p.Currency,
		Monthly: map[models.Plan]float64{
			models.PlanBasic:  p.BasicMonthly,
			models.PlanPro:    p.ProMonthly,
			models.PlanCustom: p.CustomPrice,
		},
		Yearly: map[models.Plan]float64{
			models.PlanBasic:  p.BasicYearly,
			models.PlanPro:    p.ProYearly,
			models.PlanCustom: p.CustomPrice,
		},
	}
}

// Offers строки предложений, которые видит пользователь после пробного диалога.
func Offers(p orders.Prices) []string {
	out := make([]string, 0, 3)
	for _, plan := range []models.Plan{models.PlanBasic, models.PlanPro, models.PlanCustom} {
		monthly, yearly := p.Price(plan, models.PeriodMonthly), p.Price(plan, models.PeriodYearly)
		if monthly == 0 && yearly == 0 {
			out = append(out, fmt.Sprintf("%s: individual offer", plan))
			continue
		}
		out = append(out, fmt.Sprintf("%s: %.2f %s/month or %.2f %s/year", plan, monthly, p.Currency, yearly, p.Currency))
	}
	return out
}

// Run запускает сервер и останавливает его по отмене ctx.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		a.close()
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		a.close()
		return err
	}
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Error("failed to close resource", sl.Err(err))
		}
	}
	a.closers = nil
}
