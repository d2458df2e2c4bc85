// Package notifier рассылает письма по событиям заказов: оператору о новом
// заказе и покупателю о результате проверки.
package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/magabrotheeeer/chatgate/internal/lib/sl"
	"github.com/magabrotheeeer/chatgate/internal/lib/smtp"
	"github.com/magabrotheeeer/chatgate/internal/models"
)

// ErrUnexpectedEvent событие не предназначено этой очереди.
var ErrUnexpectedEvent = errors.New("unexpected order event")

// Service отправляет уведомления о заказах.
type Service struct {
	transport smtp.Connector
	operator  string
	log       *slog.Logger
}

// New создает Service. operator адрес, на который приходят новые заказы.
func New(transport smtp.Connector, operator string, log *slog.Logger) *Service {
	return &Service{transport: transport, operator: operator, log: log}
}

// HandleReview обрабатывает событие submitted из очереди orders.review.
func (s *Service) HandleReview(ctx context.Context, body []byte) error {
	const op = "notifier.HandleReview"
	ev, err := decode(body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if ev.Type != models.OrderEventSubmitted {
		s.log.Warn("skipping order event", slog.String("event", ev.Type), slog.String("order_id", ev.Order.ID))
		return nil
	}
	if s.operator == "" {
		s.log.Warn("operator email is not configured, review mail skipped", slog.String("order_id", ev.Order.ID))
		return nil
	}

	o := ev.Order
	subject := "New order to review: " + o.ID
	text := fmt.Sprintf("A new order is waiting for review.\n\n"+
		"Order: %s\nUser: %s <%s>\nPlan: %s (%s)\nAmount: %s\nCreated: %s\n",
		o.ID, o.Username, o.Email, o.Plan, o.Period, amount(o), o.CreatedAt.Format("2006-01-02 15:04:05 MST"))

	if err := s.sendEmail(ctx, []string{s.operator}, subject, text); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// HandleResult обрабатывает события approved и rejected из очереди orders.result.
func (s *Service) HandleResult(ctx context.Context, body []byte) error {
	const op = "notifier.HandleResult"
	ev, err := decode(body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	o := ev.Order
	var subject, text string
	switch ev.Type {
	case models.OrderEventApproved:
		subject = "Your " + string(o.Plan) + " plan is active"
		text = fmt.Sprintf("Hello, %s!\n\nYour order %s has been approved. The %s plan is now active on your account.\n",
			o.Username, o.ID, o.Plan)
	case models.OrderEventRejected:
		subject = "Your order " + o.ID + " was declined"
		text = fmt.Sprintf("Hello, %s!\n\nYour order %s for the %s plan was declined.\n", o.Username, o.ID, o.Plan)
	default:
		return fmt.Errorf("%s: %w: %q", op, ErrUnexpectedEvent, ev.Type)
	}
	if o.Notes != "" {
		text += "\nNotes: " + o.Notes + "\n"
	}
	if o.Email == "" {
		s.log.Warn("order has no customer email, result mail skipped", slog.String("order_id", o.ID))
		return nil
	}

	if err := s.sendEmail(ctx, []string{o.Email}, subject, text); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func decode(body []byte) (models.OrderEvent, error) {
	var ev models.OrderEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return ev, fmt.Errorf("error unmarshalling message: %w", err)
	}
	return ev, nil
}

func amount(o models.Order) string {
	if o.Amount == 0 {
		return "by quote"
	}
	return fmt.Sprintf("%.2f %s", o.Amount, o.Currency)
}

func (s *Service) sendEmail(ctx context.Context, to []string, subject, bodyText string) error {
	from := s.transport.Sender()
	msg := strings.Join([]string{
		"From: " + from,
		"To: " + strings.Join(to, ", "),
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"UTF-8\"",
		"",
		bodyText,
	}, "\r\n")

	client, err := s.transport.Connect(ctx)
	if err != nil {
		s.log.Error("failed to connect to SMTP server", sl.Err(err))
		return err
	}
	defer client.Close()

	if err := client.Mail(from); err != nil {
		s.log.Error("failed to set MAIL FROM", slog.String("from", from), sl.Err(err))
		return err
	}
	for _, addr := range to {
		if err := client.Rcpt(addr); err != nil {
			s.log.Error("failed to set RCPT TO", slog.String("recipient", addr), sl.Err(err))
			return err
		}
	}

	wc, err := client.Data()
	if err != nil {
		s.log.Error("failed to get Data writer", sl.Err(err))
		return err
	}
	if _, err := wc.Write([]byte(msg)); err != nil {
		s.log.Error("failed to write email body", sl.Err(err))
		return err
	}
	if err := wc.Close(); err != nil {
		s.log.Error("failed to close Data writer", sl.Err(err))
		return err
	}
	if err := client.Quit(); err != nil {
		s.log.Error("failed to quit SMTP client", sl.Err(err))
		return err
	}

	s.log.Info("email sent", slog.Any("to", to), slog.String("subject", subject))
	return nil
}
