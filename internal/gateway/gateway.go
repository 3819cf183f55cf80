// Package gateway — командная поверхность движка для разговорного слоя.
// Каждая команда возвращает типизированный результат; форматирование
// ответов пользователю остаётся за разговорным слоем. Привилегированные
// команды проходят проверку полномочий на входе и нигде больше.
package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/entitlement-engine/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-engine/internal/models"
	"github.com/magabrotheeeer/entitlement-engine/internal/services/announce"
)

// AccessService выдаёт вердикт доступа.
type AccessService interface {
	Status(userID int64, now time.Time) models.AccessState
}

// TrialService — операции пробного периода.
type TrialService interface {
	Activate(userID int64, now time.Time) error
	Grant(userID int64, now time.Time) error
	Duration() time.Duration
}

// SubscriptionService — операции подписки и цикла подтверждения оплаты.
type SubscriptionService interface {
	SubmitPaymentRequest(userID int64, receiptRef string, now time.Time) (models.PaymentRequest, error)
	Approve(userID int64, days int, now time.Time) (time.Time, error)
	Reject(userID int64) error
	Revoke(userID int64) error
	ListActiveSubscribers(now time.Time) []models.Subscriber
	ListPendingRequests() []models.PaymentRequest
}

// ImageService — оркестрация генерации изображения.
type ImageService interface {
	Generate(ctx context.Context, userID int64, prompt string, now time.Time) (string, error)
}

// Announcer — рассылка объявлений активным подписчикам.
type Announcer interface {
	Broadcast(ctx context.Context, text string, now time.Time) (announce.Result, error)
}

// Authority — проверка полномочий администратора.
type Authority interface {
	Authorize(userID int64) error
}

// ReceiptVault — блобы чеков об оплате.
type ReceiptVault interface {
	Put(data []byte) (string, error)
	Get(ref string) ([]byte, error)
	Remove(ref string) error
}

// Preferences — запись пользователя и языковые настройки из хранилища.
type Preferences interface {
	GetRecord(userID int64) models.UserRecord
	Language(userID int64) models.Language
	SetLanguage(userID int64, lang models.Language) error
}

// Terms — условия доступа, которые разговорный слой показывает
// пользователю в инструкции по подписке.
type Terms struct {
	SubscriptionDays int
	ImageKeyGrant    int
	TrialDuration    time.Duration
	TrialCooldown    time.Duration
}

// Command — элемент справки по командам.
type Command struct {
	Name      string
	AdminOnly bool
}

// Profile — состояние учётной записи для показа пользователю.
type Profile struct {
	State               models.AccessState
	SubscriptionExpiry  *time.Time
	ImageKeys           int
	TrialExpiry         *time.Time
	TrialImageAvailable bool
	Language            models.Language
}

// GrantSubscriptionArgs — аргументы привилегированной выдачи подписки.
type GrantSubscriptionArgs struct {
	UserID int64 `validate:"required,gt=0"`
	Days   int   `validate:"required,gt=0,lte=365"`
}

// Engine — фасад движка. Все команды берут текущее время из часов,
// подменяемых в тестах.
type Engine struct {
	log       *slog.Logger
	auth      Authority
	access    AccessService
	trials    TrialService
	subs      SubscriptionService
	images    ImageService
	announcer Announcer
	vault     ReceiptVault
	prefs     Preferences
	terms     Terms
	validate  *validator.Validate
	now       func() time.Time
}

// New создает новый экземпляр Engine.
func New(
	log *slog.Logger,
	auth Authority,
	accessSvc AccessService,
	trials TrialService,
	subs SubscriptionService,
	images ImageService,
	announcer Announcer,
	vault ReceiptVault,
	prefs Preferences,
	terms Terms,
) *Engine {
	return &Engine{
		log:       log,
		auth:      auth,
		access:    accessSvc,
		trials:    trials,
		subs:      subs,
		images:    images,
		announcer: announcer,
		vault:     vault,
		prefs:     prefs,
		terms:     terms,
		validate:  validator.New(),
		now:       time.Now,
	}
}

var userCommands = []Command{
	{Name: "start"},
	{Name: "help"},
	{Name: "subscribe"},
	{Name: "status"},
	{Name: "trial"},
	{Name: "profile"},
	{Name: "language"},
	{Name: "generate"},
}

var adminCommands = []Command{
	{Name: "subscribers", AdminOnly: true},
	{Name: "requests", AdminOnly: true},
	{Name: "givesub", AdminOnly: true},
	{Name: "givetrial", AdminOnly: true},
	{Name: "approve", AdminOnly: true},
	{Name: "reject", AdminOnly: true},
	{Name: "revoke", AdminOnly: true},
	{Name: "announce", AdminOnly: true},
}

// Start регистрирует первый контакт: закрепляет язык по умолчанию, если
// пользователь ещё не выбирал, и возвращает действующий язык.
func (e *Engine) Start(userID int64) models.Language {
	lang := e.prefs.Language(userID)
	if err := e.prefs.SetLanguage(userID, lang); err != nil {
		e.log.Warn("failed to persist language on start", sl.UID(userID), sl.Err(err))
	}
	e.log.Info("user started", sl.UID(userID), slog.String("language", string(lang)))
	return lang
}

// Commands возвращает список доступных пользователю команд. Админские
// команды не показываются обычным пользователям.
func (e *Engine) Commands(userID int64) []Command {
	out := make([]Command, len(userCommands))
	copy(out, userCommands)
	if e.auth.Authorize(userID) == nil {
		out = append(out, adminCommands...)
	}
	return out
}

// SubscribeInstructions возвращает условия подписки и пробного доступа.
func (e *Engine) SubscribeInstructions() Terms {
	return e.terms
}

// Status возвращает вердикт доступа на текущий момент.
func (e *Engine) Status(userID int64) models.AccessState {
	return e.access.Status(userID, e.now())
}

// ActivateTrial запускает пробный период и возвращает момент его окончания.
func (e *Engine) ActivateTrial(userID int64) (time.Time, error) {
	now := e.now()
	if err := e.trials.Activate(userID, now); err != nil {
		return time.Time{}, err
	}
	return now.Add(e.trials.Duration()), nil
}

// Profile собирает состояние учётной записи пользователя.
func (e *Engine) Profile(userID int64) Profile {
	now := e.now()
	rec := e.prefs.GetRecord(userID)

	trialAvailable := rec.TrialExpiry != nil && now.Before(*rec.TrialExpiry) && !rec.TrialImageUsed
	return Profile{
		State:               e.access.Status(userID, now),
		SubscriptionExpiry:  rec.SubscriptionExpiry,
		ImageKeys:           rec.ImageKeysGranted,
		TrialExpiry:         rec.TrialExpiry,
		TrialImageAvailable: trialAvailable,
		Language:            rec.Language,
	}
}

// SetLanguage сохраняет выбор языка из поддерживаемого набора.
func (e *Engine) SetLanguage(userID int64, lang string) (models.Language, error) {
	parsed, err := models.ParseLanguage(lang)
	if err != nil {
		return "", err
	}
	if err := e.prefs.SetLanguage(userID, parsed); err != nil {
		e.log.Error("failed to set language", sl.UID(userID), sl.Err(err))
		return "", err
	}
	return parsed, nil
}

// SubmitReceipt кладёт изображение чека в хранилище и регистрирует заявку
// на подтверждение оплаты. При дубликате pending-заявки блоб удаляется,
// чтобы не копить осиротевшие файлы.
func (e *Engine) SubmitReceipt(userID int64, receipt []byte) (models.PaymentRequest, error) {
	ref, err := e.vault.Put(receipt)
	if err != nil {
		e.log.Error("failed to store receipt", sl.UID(userID), sl.Err(err))
		return models.PaymentRequest{}, err
	}

	req, err := e.subs.SubmitPaymentRequest(userID, ref, e.now())
	if err != nil {
		if rerr := e.vault.Remove(ref); rerr != nil {
			e.log.Warn("failed to remove orphaned receipt", sl.UID(userID), sl.Err(rerr))
		}
		return models.PaymentRequest{}, err
	}
	return req, nil
}

// GenerateImage выполняет платную генерацию изображения.
func (e *Engine) GenerateImage(ctx context.Context, userID int64, prompt string) (string, error) {
	return e.images.Generate(ctx, userID, prompt, e.now())
}

// ListActiveSubscribers возвращает активных подписчиков. Только администратор.
func (e *Engine) ListActiveSubscribers(adminID int64) ([]models.Subscriber, error) {
	if err := e.auth.Authorize(adminID); err != nil {
		return nil, err
	}
	return e.subs.ListActiveSubscribers(e.now()), nil
}

// ListPendingRequests возвращает заявки, ожидающие решения. Только администратор.
func (e *Engine) ListPendingRequests(adminID int64) ([]models.PaymentRequest, error) {
	if err := e.auth.Authorize(adminID); err != nil {
		return nil, err
	}
	return e.subs.ListPendingRequests(), nil
}

// Receipt отдаёт изображение чека по ссылке из заявки. Только администратор.
func (e *Engine) Receipt(adminID int64, ref string) ([]byte, error) {
	if err := e.auth.Authorize(adminID); err != nil {
		return nil, err
	}
	return e.vault.Get(ref)
}

// GrantSubscription выдаёт или продлевает подписку напрямую, без заявки.
// Только администратор.
func (e *Engine) GrantSubscription(adminID int64, args GrantSubscriptionArgs) (time.Time, error) {
	if err := e.auth.Authorize(adminID); err != nil {
		return time.Time{}, err
	}
	if err := e.validate.Struct(args); err != nil {
		return time.Time{}, err
	}
	return e.subs.Approve(args.UserID, args.Days, e.now())
}

// GrantTrial выдаёт пробный период в обход периода охлаждения.
// Только администратор.
func (e *Engine) GrantTrial(adminID, userID int64) (time.Time, error) {
	if err := e.auth.Authorize(adminID); err != nil {
		return time.Time{}, err
	}
	now := e.now()
	if err := e.trials.Grant(userID, now); err != nil {
		return time.Time{}, err
	}
	return now.Add(e.trials.Duration()), nil
}

// ApproveRequest подтверждает оплату по pending-заявке. Только администратор.
func (e *Engine) ApproveRequest(adminID, userID int64, days int) (time.Time, error) {
	if err := e.auth.Authorize(adminID); err != nil {
		return time.Time{}, err
	}
	return e.subs.Approve(userID, days, e.now())
}

// RejectRequest отклоняет pending-заявку. Только администратор.
func (e *Engine) RejectRequest(adminID, userID int64) error {
	if err := e.auth.Authorize(adminID); err != nil {
		return err
	}
	return e.subs.Reject(userID)
}

// RevokeSubscription досрочно отключает подписку. Только администратор.
func (e *Engine) RevokeSubscription(adminID, userID int64) error {
	if err := e.auth.Authorize(adminID); err != nil {
		return err
	}
	return e.subs.Revoke(userID)
}

// Broadcast рассылает объявление активным подписчикам. Только администратор.
func (e *Engine) Broadcast(ctx context.Context, adminID int64, text string) (announce.Result, error) {
	if err := e.auth.Authorize(adminID); err != nil {
		return announce.Result{}, err
	}
	return e.announcer.Broadcast(ctx, text, e.now())
}
