package trials

import (
	"errors"
	"fmt"
)

var (
	// ErrTrialIneligible пробный диалог в этом месяце недоступен.
	ErrTrialIneligible = errors.New("trial ineligible")
	// ErrNoTrialChats все пробные диалоги выданного периода заняты.
	ErrNoTrialChats = errors.New("no trial chats left")
)

// Reason причина отказа в пробном периоде.
type Reason string

const (
	// ReasonAlreadyUsed пользователь уже получил пробный диалог в этом месяце.
	ReasonAlreadyUsed Reason = "already_used"
	// ReasonIdentifierLinked имя, почта или телефон совпадают с другим аккаунтом,
	// получившим пробный диалог в этом месяце.
	ReasonIdentifierLinked Reason = "identifier_linked"
)

// IdentifierKind поле, по которому найдено совпадение.
type IdentifierKind string

const (
	KindUsername IdentifierKind = "username"
	KindEmail    IdentifierKind = "email"
	KindPhone    IdentifierKind = "phone"
)

// IneligibleError подробности отказа.
type IneligibleError struct {
	Reason Reason
	Kind   IdentifierKind
	Value  string
}

func (e *IneligibleError) Error() string {
	if e.Reason == ReasonIdentifierLinked {
		return fmt.Sprintf("%s %q has already been used for a free trial this month", e.Kind, e.Value)
	}
	return "free trial already used this month, upgrade or wait for next month"
}

// Is позволяет сравнивать ошибку с ErrTrialIneligible через errors.Is.
func (e *IneligibleError) Is(target error) bool {
	return target == ErrTrialIneligible
}
