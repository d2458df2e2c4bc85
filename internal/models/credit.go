package models

import "time"

// CreditAccount кредитный счёт пользователя. Пересоздаётся целиком при смене плана.
type CreditAccount struct {
	UserID             string    `json:"user_id"`
	Plan               Plan      `json:"plan"`
	MonthlyCredits     int       `json:"monthly_credits"`
	DailyRefresh       int       `json:"daily_refresh"`
	ConcurrentTasks    int       `json:"concurrent_tasks"`
	ScheduledTasks     int       `json:"scheduled_tasks"`
	AgentCollaboration int       `json:"agent_collaboration"`
	CreditDiscount     int       `json:"credit_discount"` // Скидка в процентах: 0, 50 или 70
	CurrentCredits     int       `json:"current_credits"`
	UsedCredits        int       `json:"used_credits"`
	LastRefresh        time.Time `json:"last_refresh"`
	CreatedAt          time.Time `json:"created_at"`
}

// PlanTemplate описывает лимиты плана, из которых создаётся CreditAccount.
type PlanTemplate struct {
	MonthlyCredits     int `json:"monthly_credits"`
	DailyRefresh       int `json:"daily_refresh"`
	ConcurrentTasks    int `json:"concurrent_tasks"`
	ScheduledTasks     int `json:"scheduled_tasks"`
	AgentCollaboration int `json:"agent_collaboration"`
	CreditDiscount     int `json:"credit_discount"`
}
