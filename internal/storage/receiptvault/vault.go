// Package receiptvault хранит изображения чеков об оплате как файлы на диске.
// Ключ блоба — непрозрачная ссылка (receiptReference) в заявке на оплату;
// блоб удаляется вместе с разрешением заявки.
package receiptvault

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ErrNotFound возвращается, когда блоб по ссылке отсутствует.
var ErrNotFound = errors.New("receipt not found")

// Vault — каталоговое хранилище блобов.
type Vault struct {
	dir string
}

// New создаёт хранилище в каталоге dir.
func New(dir string) (*Vault, error) {
	const op = "receiptvault.New"

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Vault{dir: dir}, nil
}

// Put сохраняет изображение и возвращает ссылку на него.
func (v *Vault) Put(data []byte) (string, error) {
	const op = "receiptvault.Put"

	ref := uuid.NewString()
	if err := os.WriteFile(v.path(ref), data, 0o644); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return ref, nil
}

// Get читает изображение по ссылке.
func (v *Vault) Get(ref string) ([]byte, error) {
	const op = "receiptvault.Get"

	data, err := os.ReadFile(v.path(ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return data, nil
}

// Remove удаляет блоб. Отсутствие блоба не считается ошибкой.
func (v *Vault) Remove(ref string) error {
	const op = "receiptvault.Remove"

	if err := os.Remove(v.path(ref)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// path ограничивает ссылку именем файла внутри каталога хранилища.
func (v *Vault) path(ref string) string {
	return filepath.Join(v.dir, filepath.Base(ref))
}
