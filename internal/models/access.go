package models

// AccessState — пятизначный вердикт доступа пользователя.
// Значение всегда вычисляется из записи и текущего времени,
// никогда не сохраняется в хранилище.
type AccessState int

const (
	// NoAccess — пользователь не имеет и никогда не имел доступа.
	NoAccess AccessState = iota
	// TrialActive — пробный период активен.
	TrialActive
	// TrialExpired — пробный период использован или истёк.
	TrialExpired
	// SubscriptionActive — оплаченная подписка активна.
	SubscriptionActive
	// SubscriptionExpired — подписка была, но истекла.
	SubscriptionExpired
)

// HasAccess сообщает, разрешены ли пользователю платные действия.
func (s AccessState) HasAccess() bool {
	return s == TrialActive || s == SubscriptionActive
}

func (s AccessState) String() string {
	switch s {
	case TrialActive:
		return "trial_active"
	case TrialExpired:
		return "trial_expired"
	case SubscriptionActive:
		return "subscription_active"
	case SubscriptionExpired:
		return "subscription_expired"
	default:
		return "no_access"
	}
}
