package models

import "fmt"

// Language — язык интерфейса пользователя из фиксированного набора.
type Language string

const (
	LangEN Language = "en"
	LangRU Language = "ru"
	LangAZ Language = "az"
)

// DefaultLanguage используется, пока пользователь не выбрал язык.
const DefaultLanguage = LangEN

// ParseLanguage проверяет, что строка принадлежит поддерживаемому набору.
func ParseLanguage(s string) (Language, error) {
	switch Language(s) {
	case LangEN, LangRU, LangAZ:
		return Language(s), nil
	default:
		return "", fmt.Errorf("unsupported language: %q", s)
	}
}
