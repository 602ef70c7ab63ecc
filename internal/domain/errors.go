package domain

import "errors"

// Виды ошибок. Транспортный слой сопоставляет их с кодами ответа через KindOf.
var (
	// Некорректный запрос или отказ бизнес-валидации.
	ErrValidation = errors.New("validation failed")
	// Сущность не найдена.
	ErrNotFound = errors.New("not found")
	// У актора нет прав на операцию.
	ErrUnauthorized = errors.New("unauthorized")
	// Операция противоречит текущему состоянию.
	ErrStateConflict = errors.New("state conflict")
	// Внешняя зависимость недоступна: circuit open, таймаут или исчерпаны ретраи.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	// Всё остальное.
	ErrInternal = errors.New("internal error")
)

var (
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = kindError(ErrValidation, "customer_id is required")
	// Ошибка отсутствующего идентификатора ресторана.
	ErrRestaurantRequired = kindError(ErrValidation, "restaurant_id is required")
	// Ошибка отсутствующего адреса доставки.
	ErrDeliveryAddressRequired = kindError(ErrValidation, "delivery address is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = kindError(ErrValidation, "currency is required")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrItemsRequired = kindError(ErrValidation, "order must contain at least one item")
	// Ошибка при некорректном количестве (< 1).
	ErrItemQtyInvalid = kindError(ErrValidation, "item quantity must be at least 1")
	// Ошибка при количестве больше MaxItemQuantity.
	ErrItemQtyTooLarge = kindError(ErrValidation, "item quantity exceeds the per-line limit")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = kindError(ErrValidation, "item price must be non-negative")
	// Ошибка несоответствия итога и суммы позиций.
	ErrTotalMismatch = kindError(ErrValidation, "order total does not match items sum")
	// Ошибка неизвестного статуса заказа.
	ErrUnknownStatus = kindError(ErrValidation, "unknown order status")

	// ErrRestaurantInactive возвращается, если ресторан не принимает заказы.
	ErrRestaurantInactive = kindError(ErrValidation, "restaurant is not active")
	// ErrItemUnavailable возвращается, если позиция меню снята с продажи.
	ErrItemUnavailable = kindError(ErrValidation, "menu item is unavailable")
	// ErrRestaurantNotFound возвращается, если ресторана нет в каталоге.
	ErrRestaurantNotFound = kindError(ErrNotFound, "restaurant not found")
	// ErrMenuItemNotFound возвращается, если позиции нет в меню ресторана.
	ErrMenuItemNotFound = kindError(ErrNotFound, "menu item not found")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = kindError(ErrNotFound, "order not found")
	// ErrOrderAlreadyExists возвращается при повторном сохранении заказа с тем же ID.
	ErrOrderAlreadyExists = kindError(ErrStateConflict, "order already exists")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = kindError(ErrStateConflict, "order version conflict")
	// Ошибка перехода, которого нет в таблице жизненного цикла.
	ErrInvalidTransition = kindError(ErrStateConflict, "invalid status transition")

	// ErrCatalogMalformed — каталог ответил данными, которые нельзя разобрать.
	ErrCatalogMalformed = kindError(ErrDependencyUnavailable, "restaurant catalog returned malformed data")
	// ErrCircuitOpen возвращается без вызова зависимости, пока breaker разомкнут.
	ErrCircuitOpen = kindError(ErrDependencyUnavailable, "circuit breaker is open")

	// ErrNotificationExists возвращается, если запись для (event_id, purpose) уже есть.
	ErrNotificationExists = kindError(ErrStateConflict, "notification already exists")
	// ErrNotificationNotFound возвращается, если запись уведомления не найдена.
	ErrNotificationNotFound = kindError(ErrNotFound, "notification not found")

	// Ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	ErrIdempotencyKeyRequired         = kindError(ErrValidation, "idempotency key is required")
	ErrIdempotencyRequestHashRequired = kindError(ErrValidation, "idempotency request hash is required")
	ErrIdempotencyKeyNotFound         = kindError(ErrNotFound, "idempotency key not found")
	ErrIdempotencyKeyAlreadyExists    = kindError(ErrStateConflict, "idempotency key already exists")
	ErrIdempotencyHashMismatch        = kindError(ErrStateConflict, "idempotency key reused with different request")
)

// kindedError разворачивается в свой вид через Unwrap.
type kindedError struct {
	msg  string
	kind error
}

func kindError(kind error, msg string) error {
	return &kindedError{msg: msg, kind: kind}
}

func (e *kindedError) Error() string { return e.msg }

func (e *kindedError) Unwrap() error { return e.kind }

var kinds = []error{
	ErrValidation,
	ErrNotFound,
	ErrUnauthorized,
	ErrStateConflict,
	ErrDependencyUnavailable,
	ErrInternal,
}

// KindOf возвращает вид ошибки; неизвестные ошибки считаются ErrInternal, nil остаётся nil.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrInternal
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsIdempotencyConflict проверяет, что ключ уже использован.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// Code возвращает машинный код вида ошибки для ответов API и меток метрик.
func Code(err error) string {
	switch KindOf(err) {
	case nil:
		return ""
	case ErrValidation:
		return "VALIDATION"
	case ErrNotFound:
		return "NOT_FOUND"
	case ErrUnauthorized:
		return "UNAUTHORIZED"
	case ErrStateConflict:
		return "STATE_CONFLICT"
	case ErrDependencyUnavailable:
		return "DEPENDENCY_UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}
