package models

import "strings"

// Plan тарифный план пользователя.
type Plan string

const (
	PlanFree   Plan = "free"
	PlanBasic  Plan = "basic"
	PlanPro    Plan = "pro"
	PlanCustom Plan = "custom"
)

// ParsePlan приводит строку к Plan без учёта регистра.
func ParsePlan(s string) (Plan, bool) {
	p := Plan(strings.ToLower(strings.TrimSpace(s)))
	return p, p.Valid()
}

// Valid сообщает, известен ли план.
func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanBasic, PlanPro, PlanCustom:
		return true
	}
	return false
}

// Paid сообщает, что план оплачивается кредитами, а не пробным периодом.
func (p Plan) Paid() bool {
	return p == PlanBasic || p == PlanPro || p == PlanCustom
}

// PaidPlans возвращает планы, доступные для покупки.
func PaidPlans() []Plan {
	return []Plan{PlanBasic, PlanPro, PlanCustom}
}
