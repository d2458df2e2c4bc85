package credits

import "github.com/magabrotheeeer/chatgate/internal/models"

// templates лимиты планов. Неизвестный план получает лимиты free.
var templates = map[models.Plan]models.PlanTemplate{
	models.PlanFree: {
		MonthlyCredits:  0,
		DailyRefresh:    0,
		ConcurrentTasks: 1,
	},
	models.PlanBasic: {
		MonthlyCredits:     4000,
		DailyRefresh:       300,
		ConcurrentTasks:    20,
		ScheduledTasks:     20,
		AgentCollaboration: 3,
	},
	models.PlanPro: {
		MonthlyCredits:     40000,
		DailyRefresh:       300,
		ConcurrentTasks:    20,
		ScheduledTasks:     20,
		AgentCollaboration: 5,
		CreditDiscount:     50,
	},
	models.PlanCustom: {
		MonthlyCredits:     8000,
		DailyRefresh:       300,
		ConcurrentTasks:    999,
		ScheduledTasks:     999,
		AgentCollaboration: 999,
		CreditDiscount:     70,
	},
}

// Template возвращает лимиты плана.
func Template(plan models.Plan) models.PlanTemplate {
	if t, ok := templates[plan]; ok {
		return t
	}
	return templates[models.PlanFree]
}

// Discount применяет скидку в процентах с округлением вниз.
func Discount(amount, discountPercent int) int {
	if discountPercent <= 0 {
		return amount
	}
	return amount * (100 - discountPercent) / 100
}
