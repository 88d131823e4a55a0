package registry

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Sternrassler/registry-fetch/pkg/auth"
)

// Error messages recorded in Result.Error.
const (
	// MsgNoData marks a successful fetch with zero matches.
	MsgNoData = "No data found for this ID."

	requestFailedPrefix = "Request failed: "
)

// ErrorClass represents a classification of lookup outcomes.
type ErrorClass string

const (
	// ErrorClassNone is a successful lookup with at least one match.
	ErrorClassNone ErrorClass = "success"

	// ErrorClassAuth represents a rejected token request.
	ErrorClassAuth ErrorClass = "auth"

	// ErrorClassRemote represents a non-success status from the fetch endpoint.
	ErrorClassRemote ErrorClass = "remote"

	// ErrorClassEmpty represents a successful fetch with zero matches.
	ErrorClassEmpty ErrorClass = "empty"

	// ErrorClassTransport represents network, deadline and decode failures.
	ErrorClassTransport ErrorClass = "transport"

	// ErrorClassInfrastructure represents failures outside the fetcher,
	// such as a crashed worker task.
	ErrorClassInfrastructure ErrorClass = "infrastructure"
)

// Failed builds the result for a lookup that never produced a usable
// response.
func Failed(id string, err error) Result {
	msg := requestFailedPrefix + err.Error()
	return Result{
		ID:       id,
		Error:    &msg,
		Response: emptyPayload,
	}
}

// classifyFailure separates rejected tokens from other transport failures.
func classifyFailure(err error) ErrorClass {
	var authErr *auth.Error
	if errors.As(err, &authErr) {
		return ErrorClassAuth
	}
	return ErrorClassTransport
}

func remoteFailure(id string, status int) Result {
	msg := fmt.Sprintf("Error %d", status)
	return Result{
		ID:       id,
		Status:   &status,
		Error:    &msg,
		Response: emptyPayload,
	}
}

// Classify derives the outcome class from a result's fields. Auth failures
// cannot be told apart from transport failures here and report as transport.
func Classify(r Result) ErrorClass {
	switch {
	case r.Error == nil:
		return ErrorClassNone
	case r.Status == nil:
		return ErrorClassTransport
	case *r.Status != http.StatusOK:
		return ErrorClassRemote
	default:
		return ErrorClassEmpty
	}
}
