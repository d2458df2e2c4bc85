// Package month содержит расчёты по календарным месяцам: ключ месяца
// пробного периода и срок до начала следующего.
package month

import "time"

// KeyLayout формат ключа месяца, например 2025-03.
const KeyLayout = "2006-01"

// Key возвращает ключ месяца для момента t в UTC.
func Key(t time.Time) string {
	return t.UTC().Format(KeyLayout)
}

// Same сообщает, попадают ли оба момента в один календарный месяц UTC.
func Same(a, b time.Time) bool {
	return Key(a) == Key(b)
}

// NextStart возвращает полночь UTC первого дня месяца, следующего за t.
func NextStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

// DaysUntilNext считает целые дни от now до начала месяца, следующего за usedAt.
// Неполный день отбрасывается, результат не бывает отрицательным.
func DaysUntilNext(usedAt, now time.Time) int {
	left := NextStart(usedAt).Sub(now)
	if left <= 0 {
		return 0
	}
	return int(left / (24 * time.Hour))
}
