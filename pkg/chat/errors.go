package chat

import (
	"errors"
	"fmt"
)

// ErrorClass represents a classification of failed API calls.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx answers.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx answers.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents transport failures with no cached answer.
	ErrorClassNetwork ErrorClass = "network"
)

// ErrEmptyMessage is returned by Send for a blank message.
var ErrEmptyMessage = errors.New("message cannot be empty")

// APIError represents a failed Buddha Talk API call.
type APIError struct {
	Endpoint   string
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("buddha talk %s error (%s): %v", e.Class, e.Endpoint, e.Err)
	}
	return fmt.Sprintf("buddha talk %s error (%s, status %d): %s",
		e.Class, e.Endpoint, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// classify maps an HTTP status to an error class.
func classify(status int) ErrorClass {
	switch {
	case status >= 500:
		return ErrorClassServer
	case status >= 400:
		return ErrorClassClient
	default:
		return ""
	}
}
