package chat

import (
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/connectparticipant/types"
	"github.com/aws/smithy-go"
)

// Outcome is the closed set of results a send into a chat can have.
type Outcome int

const (
	OK Outcome = iota
	AccessDenied
	Throttled
	InvalidRequest
	Unexpected
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "OK"
	case AccessDenied:
		return "ACCESS_DENIED"
	case Throttled:
		return "THROTTLING"
	case InvalidRequest:
		return "VALIDATION_ERROR"
	default:
		return "UNEXPECTED_ERROR"
	}
}

// SendResult is returned by value from every send. Detail carries the
// underlying error text for anything other than OK.
type SendResult struct {
	Outcome Outcome
	Detail  string
}

func (r SendResult) OK() bool { return r.Outcome == OK }

func (r SendResult) String() string {
	if r.Detail == "" {
		return r.Outcome.String()
	}
	return r.Outcome.String() + ": " + r.Detail
}

// Classify maps a participant service error to a SendResult.
func Classify(err error) SendResult {
	if err == nil {
		return SendResult{Outcome: OK}
	}

	var (
		accessDenied *types.AccessDeniedException
		throttling   *types.ThrottlingException
		validation   *types.ValidationException
	)
	switch {
	case errors.As(err, &accessDenied):
		return SendResult{Outcome: AccessDenied, Detail: err.Error()}
	case errors.As(err, &throttling):
		return SendResult{Outcome: Throttled, Detail: err.Error()}
	case errors.As(err, &validation):
		return SendResult{Outcome: InvalidRequest, Detail: err.Error()}
	}

	// generic errors carry the code only
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDeniedException":
			return SendResult{Outcome: AccessDenied, Detail: err.Error()}
		case "ThrottlingException":
			return SendResult{Outcome: Throttled, Detail: err.Error()}
		case "ValidationException":
			return SendResult{Outcome: InvalidRequest, Detail: err.Error()}
		}
	}
	return SendResult{Outcome: Unexpected, Detail: err.Error()}
}
