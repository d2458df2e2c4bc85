package models

import "time"

// TrialRecord запись об использовании бесплатного пробного диалога.
// Хранится по идентификатору пользователя и никогда не удаляется:
// записи прошлых месяцев нужны для поиска повторного использования
// имени, почты или телефона.
type TrialRecord struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Used      bool      `json:"used"`
	UsedAt    time.Time `json:"used_at"`
	Month     string    `json:"month"` // YYYY-MM
	ChatCount int       `json:"chat_count"`
	MaxChats  int       `json:"max_chats"`
}
