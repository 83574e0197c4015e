package app

import "fmt"

// DomainError is the error shape the HTTP layer maps directly onto a
// response: a status, a stable machine-readable code, a human message, and
// optional structured details (field errors, conflict versions).
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
