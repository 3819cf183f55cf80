// Package models содержит доменные структуры движка: запись пользователя,
// заявку на оплату и производные типы. Все даты хранятся как time.Time,
// опциональные поля — указатели (nil означает отсутствие значения).
package models

import "time"

// UserRecord — объединённое состояние пользователя, собранное из разделов
// хранилища. Ключ — стабильный числовой идентификатор пользователя.
type UserRecord struct {
	UserID             int64      // Идентификатор пользователя
	SubscriptionExpiry *time.Time // Дата истечения подписки, nil — подписки не было
	ImageKeysGranted   int        // Остаток кредитов на генерацию изображений
	TrialUsedAt        *time.Time // Начало последнего пробного периода
	TrialExpiry        *time.Time // Конец текущего пробного окна
	TrialImageUsed     bool       // Использована ли единственная пробная генерация
	Language           Language   // Выбранный язык интерфейса
}

// SubscriberState — раздел подписки: срок действия и кредиты генерации.
type SubscriberState struct {
	Expiry    *time.Time // Дата истечения подписки
	ImageKeys int        // Кредиты генерации, выданные при активации
}

// TrialState — раздел пробного периода.
// Инвариант: Expiry выставляется только вместе с UsedAt.
type TrialState struct {
	UsedAt    *time.Time // Время активации последнего пробного периода
	Expiry    *time.Time // Конец пробного окна
	ImageUsed bool       // Потрачена ли пробная генерация изображения
}

// Subscriber — строка отчёта для администратора: активный подписчик.
type Subscriber struct {
	UserID    int64
	Expiry    time.Time
	ImageKeys int
}
