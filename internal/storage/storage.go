// Package storage содержит общие ошибки драйверов хранения.
// Реализации лежат в подпакетах jsonfile и postgres.
package storage

import "errors"

var (
	// ErrNotFound запись с таким ключом отсутствует.
	ErrNotFound = errors.New("not found")
	// ErrExists запись с таким ключом уже есть.
	ErrExists = errors.New("already exists")
)
