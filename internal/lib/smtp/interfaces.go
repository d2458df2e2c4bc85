// Package smtp предоставляет интерфейсы для работы с SMTP.
package smtp

import (
	"context"
	"io"
)

// Client интерфейс для SMTP клиента.
type Client interface {
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
}

// Connector открывает авторизованное SMTP соединение.
type Connector interface {
	Connect(ctx context.Context) (Client, error)
	Sender() string
}
