package errs

import "fmt"

// ValidationError: пользовательское значение не прошло проверку.
type ValidationError struct {
	Field   string
	Message string
	// Positions: номера (с 1) позиций, к которым относится ошибка.
	Positions []int
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError: позиция, проблема или товар больше не существуют.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

func NotFound(entity string, key any) error {
	return &NotFoundError{Entity: entity, Key: fmt.Sprint(key)}
}

// ExternalServiceError: сбой OCR, экспорта или хранилища.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

func External(service string, err error) error {
	if err == nil {
		return nil
	}
	return &ExternalServiceError{Service: service, Err: err}
}

// IntegrityError: нарушение уникальности при сохранении алиаса или товара.
type IntegrityError struct {
	Op  string
	Err error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// Unresolved: ошибка финализации со списком нерешённых позиций.
func Unresolved(positions []int) error {
	return &ValidationError{
		Field:     "positions",
		Message:   fmt.Sprintf("unresolved positions %v", positions),
		Positions: positions,
	}
}
