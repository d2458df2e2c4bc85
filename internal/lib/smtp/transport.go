package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"

	"github.com/magabrotheeeer/chatgate/internal/config"
	"github.com/magabrotheeeer/chatgate/internal/lib/sl"
)

// ErrNoStartTLS сервер не предлагает STARTTLS, письма открытым текстом не отправляются.
var ErrNoStartTLS = errors.New("smtp server does not support STARTTLS")

// Transport открывает авторизованные сессии к почтовому серверу уведомлений.
type Transport struct {
	cfg config.SMTP
	log *slog.Logger
}

// NewTransport создает новый экземпляр Transport.
func NewTransport(cfg config.SMTP, log *slog.Logger) *Transport {
	return &Transport{cfg: cfg, log: log}
}

// Connect дозванивается до сервера, включает STARTTLS и авторизуется.
// *smtp.Client сам удовлетворяет Client, поэтому отдаётся как есть.
func (t *Transport) Connect(ctx context.Context) (Client, error) {
	const op = "smtp.Connect"
	log := t.log.With(slog.String("op", op), slog.String("host", t.cfg.SMTPHost))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(t.cfg.SMTPHost, t.cfg.SMTPPort))
	if err != nil {
		log.Error("dial failed", sl.Err(err))
		return nil, fmt.Errorf("%s: dial: %w", op, err)
	}

	client, err := smtp.NewClient(conn, t.cfg.SMTPHost)
	if err != nil {
		log.Error("greeting failed", sl.Err(err))
		if cerr := conn.Close(); cerr != nil {
			log.Error("failed to close connection", sl.Err(cerr))
		}
		return nil, fmt.Errorf("%s: greeting: %w", op, err)
	}

	if err := t.secure(client); err != nil {
		return nil, t.abort(log, client, fmt.Errorf("%s: %w", op, err))
	}
	if err := client.Auth(smtp.PlainAuth("", t.cfg.SMTPUser, t.cfg.SMTPPass, t.cfg.SMTPHost)); err != nil {
		return nil, t.abort(log, client, fmt.Errorf("%s: auth: %w", op, err))
	}
	return client, nil
}

func (t *Transport) secure(client *smtp.Client) error {
	if ok, _ := client.Extension("STARTTLS"); !ok {
		return ErrNoStartTLS
	}
	if err := client.StartTLS(&tls.Config{ServerName: t.cfg.SMTPHost, MinVersion: tls.VersionTLS12}); err != nil {
		return fmt.Errorf("starttls: %w", err)
	}
	return nil
}

// abort закрывает недоустановленную сессию и возвращает исходную ошибку.
func (t *Transport) abort(log *slog.Logger, client *smtp.Client, err error) error {
	log.Error("smtp session rejected", sl.Err(err))
	if cerr := client.Close(); cerr != nil {
		log.Error("failed to close client", sl.Err(cerr))
	}
	return err
}

// Sender адрес отправителя, он же логин на сервере.
func (t *Transport) Sender() string {
	return t.cfg.SMTPUser
}

// OperatorEmail адрес оператора, проверяющего заказы.
func (t *Transport) OperatorEmail() string {
	return t.cfg.OperatorEmail
}
