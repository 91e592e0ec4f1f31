package validator

import (
	"strings"

	"trade_hook/internal/models"
)

// ValidationError: все найденные проблемы сигнала разом.
type ValidationError struct {
	Errors []string
	// Stale: сигнал отклонён по времени (повтор/устарел)
	Stale bool
}

func (e *ValidationError) Error() string {
	return "invalid signal: " + strings.Join(e.Errors, "; ")
}

// Is связывает ошибку с категориями models.ErrValidation и models.ErrStaleSignal.
func (e *ValidationError) Is(target error) bool {
	switch target {
	case models.ErrValidation:
		return true
	case models.ErrStaleSignal:
		return e.Stale
	}
	return false
}

func (e *ValidationError) add(msg string) { e.Errors = append(e.Errors, msg) }

func (e *ValidationError) empty() bool { return len(e.Errors) == 0 }
