package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrUpgradeRequired пробный диалог этого месяца уже израсходован.
	ErrUpgradeRequired = errors.New("upgrade required")
	// ErrInvalidPrompt пустой или слишком длинный запрос.
	ErrInvalidPrompt = errors.New("invalid prompt")
)

// UpgradeError сообщает, через сколько дней станет доступен следующий пробный диалог.
type UpgradeError struct {
	DaysLeft int
}

func (e *UpgradeError) Error() string {
	return fmt.Sprintf("%s: next free trial in %d days", ErrUpgradeRequired, e.DaysLeft)
}

// Is позволяет сравнивать через errors.Is(err, ErrUpgradeRequired).
func (e *UpgradeError) Is(target error) bool {
	return target == ErrUpgradeRequired
}
