// Package remote defines the error types shared by the external service
// clients, so handlers can map upstream failures to response statuses.
package remote

import "fmt"

// APIError is a non-2xx response from an upstream service.
type APIError struct {
	Service    string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error (status %d): %s", e.Service, e.StatusCode, e.Message)
}

// NetworkError is a connectivity failure reaching an upstream service.
type NetworkError struct {
	Service string
	Err     error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s unreachable: %v", e.Service, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
