package foundry

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrAgentNotFound indicates the named agent does not exist in the project.
var ErrAgentNotFound = errors.New("agent not found")

// APIError is a non-2xx reply from the project endpoint
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("foundry API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("foundry API error %d: %s", e.StatusCode, e.Message)
}

// ServerError reports a 5xx reply.
func (e *APIError) ServerError() bool {
	return e.StatusCode >= http.StatusInternalServerError
}

// countsAsOutage decides which errors trip the circuit breaker. Transport
// failures and 5xx replies do; 4xx replies, throttling included, come from a
// service that is up.
func countsAsOutage(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.ServerError()
	}
	return err != nil
}
