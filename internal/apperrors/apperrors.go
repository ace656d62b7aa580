// Package apperrors — общая таксономия ошибок сервиса. API-слой мапит их
// через errors.Is на HTTP-коды; внутри сервисы оборачивают их pkg/errors.
package apperrors

import "github.com/pkg/errors"

var (
	// ErrValidation — пустой/некорректный ввод (400).
	ErrValidation = errors.New("validation error")
	// ErrUnauthorized — актёр не аутентифицирован (401).
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden — у актёра нет права на операцию (403).
	ErrForbidden = errors.New("forbidden")
	// ErrThrottled — кулдаун между сканированиями не истёк (429).
	ErrThrottled = errors.New("throttled")
	// ErrNotFound — заказ с таким трек-номером не существует (404).
	ErrNotFound = errors.New("not found")
	// ErrConflict — заказ уже привязан к другому клиенту (409).
	ErrConflict = errors.New("conflict")
)

// Validationf оборачивает ErrValidation с пояснением.
func Validationf(format string, args ...any) error {
	return errors.Wrapf(ErrValidation, format, args...)
}
