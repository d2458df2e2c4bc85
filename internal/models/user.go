// Package models содержит доменные структуры сервиса: пользователей, сессии,
// записи пробного периода, кредитные счета и заказы. JSON-теги структур
// совпадают с форматом снимков на диске.
package models

import "time"

// User представляет зарегистрированного пользователя системы.
type User struct {
	ID           string     `json:"id"`            // Стабильный идентификатор (uuid)
	Username     string     `json:"username"`      // Уникален без учёта регистра
	Email        string     `json:"email"`         // Уникален без учёта регистра
	Phone        string     `json:"phone"`         // Необязательный, уникален после нормализации
	PasswordHash string     `json:"password_hash"` // bcrypt-хэш пароля
	CreatedAt    time.Time  `json:"created_at"`
	Subscription Plan       `json:"subscription"` // Меняется только при одобрении заказа
	TrialUsed    bool       `json:"trial_used"`   // Устаревший флаг, оставлен для совместимости
	ChatCount    int        `json:"chat_count"`
	LastLogin    *time.Time `json:"last_login"`
}

// Session cookie-сессия пользователя.
type Session struct {
	ID        string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired сообщает, истекла ли сессия к моменту now.
func (s Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
