package govna

import (
	"errors"
	"fmt"
)

// Ошибки транспортного уровня.
var (
	ErrLinkTimeout      = errors.New("таймаут ожидания ответа устройства")
	ErrLinkDisconnected = errors.New("соединение с устройством потеряно")
	ErrLinkBusy         = errors.New("устройство занято другим сканированием")
)

// Ошибки разбора строк ответа.
var (
	ErrMalformedLine = errors.New("некорректная строка данных")
	ErrOutOfRange    = errors.New("значение вне допустимого диапазона")
)

// Ошибки сборки сканирования.
var (
	ErrDesync          = errors.New("рассинхронизация протокола")
	ErrSegmentMismatch = errors.New("число точек сегмента не совпадает с ожидаемым")
	ErrSweepCancelled  = errors.New("сканирование отменено")
	ErrCoordinatorUsed = errors.New("координатор уже использован")
	ErrInvalidSweep    = errors.New("некорректные параметры сканирования")
)

// Ошибки расчета TDR.
var (
	ErrInsufficientPoints    = errors.New("недостаточно точек для расчета TDR")
	ErrInvalidVelocityFactor = errors.New("коэффициент укорочения должен быть в диапазоне (0, 1]")
)

// SweepError - итоговая ошибка неудавшегося сканирования.
// Segment равен -1, если сбой произошел до первого сегмента.
type SweepError struct {
	SweepID  string
	Segment  int
	Attempts int
	Err      error
}

func (e *SweepError) Error() string {
	if e.Segment < 0 {
		return fmt.Sprintf("сканирование %s: %v", e.SweepID, e.Err)
	}
	return fmt.Sprintf("сканирование %s: сегмент %d (попыток: %d): %v", e.SweepID, e.Segment, e.Attempts, e.Err)
}

func (e *SweepError) Unwrap() error { return e.Err }

// retryable сообщает, можно ли повторить запрос сегмента после ошибки err.
func retryable(err error) bool {
	switch {
	case errors.Is(err, ErrLinkDisconnected), errors.Is(err, ErrDesync):
		return false
	case errors.Is(err, ErrLinkTimeout),
		errors.Is(err, ErrSegmentMismatch),
		errors.Is(err, ErrMalformedLine),
		errors.Is(err, ErrOutOfRange):
		return true
	}
	return false
}
