package models

import "time"

// RequestStatus — статус заявки на оплату.
type RequestStatus string

const (
	// StatusPending — заявка ожидает решения администратора.
	StatusPending RequestStatus = "pending"
	// StatusApproved — заявка одобрена.
	StatusApproved RequestStatus = "approved"
	// StatusRejected — заявка отклонена.
	StatusRejected RequestStatus = "rejected"
)

// PaymentRequest — заявка на ручное подтверждение оплаты.
// На одного пользователя одновременно существует не более одной
// заявки в статусе pending.
type PaymentRequest struct {
	ID          string        `json:"id"`           // Уникальный идентификатор заявки
	UserID      int64         `json:"user_id"`      // Кто отправил чек
	SubmittedAt time.Time     `json:"submitted_at"` // Момент отправки
	ReceiptRef  string        `json:"receipt_ref"`  // Ссылка на изображение чека в хранилище
	Status      RequestStatus `json:"status"`       // Текущий статус
}
