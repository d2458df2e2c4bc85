package orders

import "github.com/magabrotheeeer/chatgate/internal/models"

// Prices каталог цен платных планов. Нулевая цена означает индивидуальное предложение.
type Prices struct {
	Currency string
	Monthly  map[models.Plan]float64
	Yearly   map[models.Plan]float64
}

// Price возвращает стоимость плана за период.
func (p Prices) Price(plan models.Plan, period models.BillingPeriod) float64 {
	if period == models.PeriodYearly {
		return p.Yearly[plan]
	}
	return p.Monthly[plan]
}
