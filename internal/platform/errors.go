package platform

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound covers HTTP 404 and the platform's "Unknown ..." codes.
	ErrNotFound = errors.New("platform: not found")
	// ErrAlreadyResponded is returned when an interaction was already acknowledged.
	ErrAlreadyResponded = errors.New("platform: interaction already acknowledged")
	// ErrUnauthorized is returned for a rejected bot token.
	ErrUnauthorized = errors.New("platform: unauthorized")
	// ErrForbidden is returned when the bot lacks access.
	ErrForbidden = errors.New("platform: forbidden")
)

// Platform JSON error codes (https://discord.com/developers/docs/topics/opcodes-and-status-codes).
const (
	CodeUnknownChannel      = 10003
	CodeUnknownGuild        = 10004
	CodeUnknownMember       = 10007
	CodeUnknownMessage      = 10008
	CodeUnknownWebhook      = 10015
	CodeUnknownUser         = 10013
	CodeUnknownInteraction  = 10062
	CodeAlreadyAcknowledged = 40060
)

// APIError is a non-2xx response from the REST API.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("discord API error: %s %s: HTTP %d (code %d): %s", e.Method, e.Path, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("discord API error: %s %s: HTTP %d: %s", e.Method, e.Path, e.Status, e.Message)
}

// Is maps status codes and platform error codes onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		if e.Status == http.StatusNotFound {
			return true
		}
		switch e.Code {
		case CodeUnknownChannel, CodeUnknownGuild, CodeUnknownMember, CodeUnknownMessage,
			CodeUnknownWebhook, CodeUnknownUser, CodeUnknownInteraction:
			return true
		}
	case ErrAlreadyResponded:
		return e.Code == CodeAlreadyAcknowledged
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrForbidden:
		return e.Status == http.StatusForbidden
	}
	return false
}

// AsAPIError unwraps err into an *APIError.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
