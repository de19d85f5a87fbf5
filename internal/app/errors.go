package app

import (
	"fmt"
	"net/http"

	"todostarter/internal/todo"
)

// DomainError is an error that already knows its HTTP response.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var errInvalidBody = domainError(http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)

// invalidField reports a bad request parameter in the same shape as a
// todo.ValidationError.
func invalidField(field, message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", field+": "+message,
		[]todo.FieldError{{Field: field, Message: message}})
}
