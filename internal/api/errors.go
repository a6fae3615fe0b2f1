package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure so callers can decide how to surface it.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation is a client-side input rejection; no request was sent.
	KindValidation
	// KindInvalidCredentials is a 401 from the token endpoint.
	KindInvalidCredentials
	// KindNetwork is a transport failure (DNS, refused, reset).
	KindNetwork
	// KindTimeout is a request that exceeded its deadline.
	KindTimeout
	// KindSessionExpired means the bearer token is no longer accepted.
	KindSessionExpired
	// KindForbidden is a 403.
	KindForbidden
	// KindNotFound is a 404.
	KindNotFound
	// KindBadRequest is any other 4xx.
	KindBadRequest
	// KindRateLimited is a 429.
	KindRateLimited
	// KindServer is a 5xx.
	KindServer
	// KindNoToken is a well-formed login response without a token field.
	KindNoToken
)

var kindNames = map[Kind]string{
	KindUnknown:            "unknown",
	KindValidation:         "validation",
	KindInvalidCredentials: "invalid_credentials",
	KindNetwork:            "network",
	KindTimeout:            "timeout",
	KindSessionExpired:     "session_expired",
	KindForbidden:          "forbidden",
	KindNotFound:           "not_found",
	KindBadRequest:         "bad_request",
	KindRateLimited:        "rate_limited",
	KindServer:             "server",
	KindNoToken:            "no_token",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// genericMessages are shown when the backend supplied no usable message.
var genericMessages = map[Kind]string{
	KindUnknown:            "Something went wrong. Please try again.",
	KindValidation:         "Please check the highlighted fields.",
	KindInvalidCredentials: "Invalid email or password. Please try again.",
	KindNetwork:            "Network error. Please check your connection.",
	KindTimeout:            "The server took too long to respond. Please check your connection.",
	KindSessionExpired:     "Your session has expired. Please log in again.",
	KindForbidden:          "You do not have permission to do that.",
	KindNotFound:           "The requested resource was not found.",
	KindBadRequest:         "The request was rejected by the server.",
	KindRateLimited:        "Too many attempts. Please try again later.",
	KindServer:             "Server error. Please try again later.",
	KindNoToken:            "The server did not return an access token.",
}

// GenericMessage returns the fallback user-facing message for k.
func GenericMessage(k Kind) string {
	if s, ok := genericMessages[k]; ok {
		return s
	}
	return genericMessages[KindUnknown]
}

// Error is the typed failure returned by every client operation.
type Error struct {
	Kind    Kind
	Status  int
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (%d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an Error with the generic message for kind.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: GenericMessage(kind), Err: err}
}

// Validation builds a client-side validation failure with msg.
func Validation(op, msg string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: msg}
}

// KindOf returns the Kind of err, KindTimeout/KindUnknown for bare
// context errors, and KindUnknown for anything else.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// IsSessionExpired reports whether err (or any error in its chain) is a
// session expiry.
func IsSessionExpired(err error) bool {
	return KindOf(err) == KindSessionExpired
}

// Message returns a human-readable message for err suitable for display.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return GenericMessage(apiErr.Kind)
	}
	return GenericMessage(KindOf(err))
}

// errorBody covers the error shapes the backend produces: FastAPI's
// {"detail": "..."} or {"detail": [{"msg": "..."}]}, and {"message": "..."}.
type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

type validationDetail struct {
	Msg string `json:"msg"`
	Loc []any  `json:"loc"`
}

// extractMessage pulls a human-readable message out of an error body.
// It returns "" when nothing usable is present.
func extractMessage(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return ""
	}

	if len(eb.Detail) > 0 {
		var s string
		if json.Unmarshal(eb.Detail, &s) == nil && s != "" {
			return s
		}
		var details []validationDetail
		if json.Unmarshal(eb.Detail, &details) == nil {
			msgs := make([]string, 0, len(details))
			for _, d := range details {
				if d.Msg != "" {
					msgs = append(msgs, d.Msg)
				}
			}
			if len(msgs) > 0 {
				return strings.Join(msgs, "; ")
			}
		}
	}
	if eb.Message != "" {
		return eb.Message
	}
	return eb.Error
}
