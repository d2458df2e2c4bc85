// Package jsonfile хранит каждую коллекцию одним JSON-документом на диске.
//
// Документ загружается в память при открытии. Каждое изменение применяется
// к копии, копия записывается во временный файл в том же каталоге,
// файл синхронизируется и переименовывается поверх исходного. При ошибке
// записи состояние в памяти не меняется.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
)

// Collection документ вида {"<id>": {...}, ...}.
type Collection[T any] struct {
	mu    sync.RWMutex
	path  string
	items map[string]T
}

// OpenCollection загружает документ. Отсутствующий файл означает пустую коллекцию.
// Каждый fill получает ключ и элемент после загрузки: в части документов
// идентификатор хранится только ключом.
func OpenCollection[T any](path string, fill ...func(key string, item *T)) (*Collection[T], error) {
	const op = "jsonfile.OpenCollection"

	c := &Collection[T]{path: path, items: make(map[string]T)}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return c, nil
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(data) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(data, &c.items); err != nil {
		return nil, fmt.Errorf("%s: decode %s: %w", op, filepath.Base(path), err)
	}
	if c.items == nil {
		c.items = make(map[string]T)
	}
	for _, f := range fill {
		for k, v := range c.items {
			f(k, &v)
			c.items[k] = v
		}
	}
	return c, nil
}

// Get возвращает копию элемента.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, bool, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[id]
	return v, ok, nil
}

// All возвращает копии всех элементов в произвольном порядке.
func (c *Collection[T]) All(ctx context.Context) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, 0, len(c.items))
	for _, v := range c.items {
		out = append(out, v)
	}
	return out, nil
}

// Update применяет fn к копии документа и сохраняет результат.
// Если fn возвращает ошибку, ничего не записывается.
func (c *Collection[T]) Update(ctx context.Context, fn func(items map[string]T) error) error {
	const op = "jsonfile.Update"
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	next := maps.Clone(c.items)
	if err := fn(next); err != nil {
		return err
	}
	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := writeAtomic(c.path, data); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	c.items = next
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	tmpName = ""
	return nil
}
