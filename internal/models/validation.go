package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingKey marks a config key that is absent altogether, as opposed to
// present but empty.
var ErrMissingKey = errors.New("missing")

// ValidationError represents a single validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (v ValidationError) Error() string {
	if v.Field == "" {
		return v.Message
	}
	return fmt.Sprintf("%s %s", v.Field, v.Message)
}

// ValidationErrors aggregates every failure found in one target, so the
// operator can fix a config in a single pass.
type ValidationErrors struct {
	// Scope names the environment the errors belong to.
	Scope  string            `json:"scope,omitempty"`
	Errors []ValidationError `json:"errors"`
}

// Add records a validation error for a field.
func (v *ValidationErrors) Add(field string, err error) {
	if err == nil {
		return
	}
	v.Errors = append(v.Errors, ValidationError{Field: field, Message: err.Error(), Cause: err})
}

// AddMessage records a validation error with a custom message.
func (v *ValidationErrors) AddMessage(field, message string) {
	if message == "" {
		return
	}
	v.Errors = append(v.Errors, ValidationError{Field: field, Message: message})
}

// Fields returns the field names of all recorded errors, in order.
func (v *ValidationErrors) Fields() []string {
	if v == nil {
		return nil
	}
	fields := make([]string, 0, len(v.Errors))
	for _, err := range v.Errors {
		fields = append(fields, err.Field)
	}
	return fields
}

// Err returns nil if there are no errors, otherwise returns the validation error.
func (v *ValidationErrors) Err() error {
	if v == nil || len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Error implements error.
func (v *ValidationErrors) Error() string {
	if v == nil || len(v.Errors) == 0 {
		return "validation failed"
	}

	var builder strings.Builder
	if v.Scope != "" {
		builder.WriteString(v.Scope)
		builder.WriteString(": ")
	}
	for i, err := range v.Errors {
		if i > 0 {
			builder.WriteString("; ")
		}
		builder.WriteString(err.Error())
	}
	return builder.String()
}

// Is allows errors.Is to match causes such as ErrMissingKey.
func (v *ValidationErrors) Is(target error) bool {
	if v == nil {
		return false
	}
	for _, err := range v.Errors {
		if err.Cause != nil && errors.Is(err.Cause, target) {
			return true
		}
	}
	return false
}
