package voice

import (
	"errors"
	"fmt"
)

var (
	// ErrLoggedOut is returned when the API answers with an empty or
	// unauthenticated response.
	ErrLoggedOut = errors.New("not logged in")

	// ErrActionFailed is the generic failure after exhausting retries.
	ErrActionFailed = errors.New("action failed, please try again")

	// SMS failure causes, mapped from response error codes.
	ErrSMSTooMany        = errors.New("too many messages at once")
	ErrSMSNoCredit       = errors.New("out of credit")
	ErrSMSBadDestination = errors.New("destination not supported")
)

// SMS error codes reported by the send endpoint.
const (
	smsCodeTooMany        = "58"
	smsCodeNoCredit       = "66"
	smsCodeBadDestination = "67"
)

// APIError is a non-ok response from a mutating endpoint.
type APIError struct {
	Endpoint string
	Code     string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: rejected with code %s", e.Endpoint, e.Code)
	}
	return fmt.Sprintf("%s: rejected", e.Endpoint)
}

// smsError maps a send failure to its user-visible cause.
func smsError(err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.Code {
	case smsCodeTooMany:
		return ErrSMSTooMany
	case smsCodeNoCredit:
		return ErrSMSNoCredit
	case smsCodeBadDestination:
		return ErrSMSBadDestination
	default:
		return ErrActionFailed
	}
}
