// Package sl содержит вспомогательные функции для работы с логгером slog.
// Основная цель — единообразное формирование структурированных полей лога
// для ошибок и идентификаторов пользователей.
package sl

import (
	"log/slog"
	"strconv"
)

// Err возвращает slog.Attr с ключом "error" и значением текста ошибки.
//
// Пример:
//
//	log.Error("failed to do something", sl.Err(err))
func Err(err error) slog.Attr {
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}

// UID возвращает slog.Attr с ключом "user_id" для числового идентификатора.
func UID(userID int64) slog.Attr {
	return slog.Attr{
		Key:   "user_id",
		Value: slog.StringValue(strconv.FormatInt(userID, 10)),
	}
}
