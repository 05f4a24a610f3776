package tools

import (
	"fmt"

	"github.com/aatumaykin/nexbackup/internal/logger"
)

// ToolError - структурированная ошибка выполнения инструмента
type ToolError struct {
	Code       string `json:"code"`                 // Код ошибки для программной обработки
	Message    string `json:"message"`              // Человекочитаемое сообщение
	Suggestion string `json:"suggestion,omitempty"` // Предложение по исправлению
	Err        error  `json:"-"`
}

// Error реализует интерфейс error
func (e *ToolError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Suggestion)
	}
	return e.Message
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// LogFields возвращает поля для структурированного логирования
func (e *ToolError) LogFields() []logger.Field {
	fields := []logger.Field{
		{Key: "error_code", Value: e.Code},
		{Key: "error_message", Value: e.Message},
	}
	if e.Suggestion != "" {
		fields = append(fields, logger.Field{Key: "error_suggestion", Value: e.Suggestion})
	}
	return fields
}

// NewValidationError создает ошибку валидации аргументов
func NewValidationError(message, suggestion string, err error) *ToolError {
	return &ToolError{
		Code:       "invalid_arguments",
		Message:    message,
		Suggestion: suggestion,
		Err:        err,
	}
}

// NewInternalError оборачивает ошибку хранилища или рантайма
func NewInternalError(message string, err error) *ToolError {
	return &ToolError{
		Code:    "internal_error",
		Message: fmt.Sprintf("%s: %v", message, err),
		Err:     err,
	}
}
