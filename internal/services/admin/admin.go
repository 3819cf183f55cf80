// Package admin реализует проверку полномочий администратора.
// Администратор — фиксированная учётная запись из конфигурации; проверка
// выполняется на границе каждой привилегированной команды, а не внутри
// вызываемых сервисов.
package admin

import "errors"

// ErrUnauthorized возвращается на привилегированную команду не от
// администратора. Ответ не раскрывает, какая именно проверка не прошла.
var ErrUnauthorized = errors.New("unauthorized")

// Authority — проверка полномочий по фиксированному идентификатору.
type Authority struct {
	adminID int64
}

// NewAuthority создает новый экземпляр Authority.
func NewAuthority(adminID int64) *Authority {
	return &Authority{adminID: adminID}
}

// Authorize пропускает только администратора.
func (a *Authority) Authorize(userID int64) error {
	if userID != a.adminID {
		return ErrUnauthorized
	}
	return nil
}
