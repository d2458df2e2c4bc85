package accounts

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateIdentifier имя, почта или телефон уже заняты.
	ErrDuplicateIdentifier = errors.New("identifier already registered")
	// ErrInvalidCredentials неверный логин или пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrSessionNotFound сессия неизвестна или истекла.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUserNotFound пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidPlan неизвестный план подписки.
	ErrInvalidPlan = errors.New("invalid plan")
)

// Field идентификатор, по которому обнаружен конфликт.
type Field string

const (
	FieldUsername Field = "username"
	FieldEmail    Field = "email"
	FieldPhone    Field = "phone"
)

// Conflict занятое значение одного поля.
type Conflict struct {
	Field Field  `json:"field"`
	Value string `json:"value"`
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s %q is already registered", c.Field, c.Value)
}

// DuplicateError перечисляет все конфликтующие поля регистрации.
// Если занято имя, Suggestions содержит до трёх свободных вариантов.
type DuplicateError struct {
	Conflicts   []Conflict
	Suggestions []string
}

func (e *DuplicateError) Error() string {
	parts := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		parts = append(parts, c.String())
	}
	msg := strings.Join(parts, "; ")
	if len(e.Suggestions) > 0 {
		msg += "; available usernames: " + strings.Join(e.Suggestions, ", ")
	}
	return msg
}

// Is позволяет сравнивать ошибку с ErrDuplicateIdentifier через errors.Is.
func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicateIdentifier
}
