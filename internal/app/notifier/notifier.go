// Package notifier запускает потребителей очередей заказов и рассылку писем.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/chatgate/internal/config"
	"github.com/magabrotheeeer/chatgate/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/chatgate/internal/lib/sl"
	"github.com/magabrotheeeer/chatgate/internal/lib/smtp"
	notifierservice "github.com/magabrotheeeer/chatgate/internal/services/notifier"
)

// App процесс-потребитель событий заказов.
type App struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	notifier *notifierservice.Service
	logger   *slog.Logger
}

// New подключается к RabbitMQ и собирает сервис уведомлений.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "notifier.New"
	if cfg.RabbitMQURL == "" {
		return nil, fmt.Errorf("%s: %w", op, errors.New("rabbitmq url is not set"))
	}

	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetOrderQueues())
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	transport := smtp.NewTransport(cfg.SMTP, logger)
	return &App{
		conn:     conn,
		ch:       ch,
		notifier: notifierservice.New(transport, transport.OperatorEmail(), logger),
		logger:   logger,
	}, nil
}

// Run потребляет очереди до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	err := rabbitmq.ConsumerMessage(ctx, a.ch, rabbitmq.QueueOrderReview, a.logger, func(body []byte) error {
		return a.notifier.HandleReview(ctx, body)
	})
	if err != nil {
		a.logger.Error("failed to start review queue consumer", sl.Err(err))
		return err
	}

	err = rabbitmq.ConsumerMessage(ctx, a.ch, rabbitmq.QueueOrderResult, a.logger, func(body []byte) error {
		return a.notifier.HandleResult(ctx, body)
	})
	if err != nil {
		a.logger.Error("failed to start result queue consumer", sl.Err(err))
		return err
	}

	<-ctx.Done()
	a.logger.Info("notifier shutting down gracefully")

	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", sl.Err(err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", sl.Err(err))
	}
	return nil
}
