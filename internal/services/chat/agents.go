package chat

import (
	"strings"

	"github.com/magabrotheeeer/chatgate/internal/models"
)

// Agent участник совместного разбора запроса.
type Agent struct {
	Name  string `json:"name"`
	Role  string `json:"role"`
	Brief string `json:"-"`
}

var (
	analyst = Agent{
		Name:  "analyst",
		Role:  "data analysis and research expert",
		Brief: "Break the question down, identify the key facts and data needs, give a precise analytical view.",
	}
	creative = Agent{
		Name:  "creative",
		Role:  "creative design and content expert",
		Brief: "Offer original ideas, alternative angles and well-crafted wording.",
	}
	technical = Agent{
		Name:  "technical",
		Role:  "engineering and architecture expert",
		Brief: "Describe a concrete technical implementation, its trade-offs and risks.",
	}
	product = Agent{
		Name:  "product",
		Role:  "product strategy and user experience expert",
		Brief: "Evaluate the idea from the user and market point of view and suggest priorities.",
	}
	coordinator = Agent{
		Name:  "coordinator",
		Role:  "multi-agent coordinator",
		Brief: "Merge the other experts' views into one consistent, actionable answer.",
	}
)

// Roster возвращает состав агентов для плана. У free агентов нет.
func Roster(plan models.Plan) []Agent {
	switch plan {
	case models.PlanBasic:
		return []Agent{analyst, creative, technical}
	case models.PlanPro, models.PlanCustom:
		return []Agent{analyst, creative, technical, product, coordinator}
	default:
		return nil
	}
}

// SystemPrompt сворачивает состав агентов в системное сообщение.
// Пустая строка означает, что системное сообщение не нужно.
func SystemPrompt(plan models.Plan) string {
	agents := Roster(plan)
	if len(agents) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("You are a team of experts answering together. Team members:\n")
	for _, a := range agents {
		b.WriteString("- ")
		b.WriteString(a.Name)
		b.WriteString(" (")
		b.WriteString(a.Role)
		b.WriteString("): ")
		b.WriteString(a.Brief)
		b.WriteString("\n")
	}
	b.WriteString("Answer with one combined response.")
	if plan == models.PlanPro || plan == models.PlanCustom {
		b.WriteString(" Finish with a short summary of each expert's contribution.")
	}
	return b.String()
}
