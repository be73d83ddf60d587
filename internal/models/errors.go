package models

import "fmt"

// ErrorType classifies document-level pipeline failures.
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeInput       ErrorType = "input"
	ErrorTypeRasterize   ErrorType = "rasterize"
	ErrorTypeModel       ErrorType = "model"
	ErrorTypePersistence ErrorType = "persistence"
)

// PipelineError is a document-level failure with context.
type PipelineError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func ValidationError(message string, err error) *PipelineError {
	return &PipelineError{Type: ErrorTypeValidation, Message: message, Err: err}
}

func InputError(message string, err error) *PipelineError {
	return &PipelineError{Type: ErrorTypeInput, Message: message, Err: err}
}

func RasterizeError(message string, err error) *PipelineError {
	return &PipelineError{Type: ErrorTypeRasterize, Message: message, Err: err}
}
