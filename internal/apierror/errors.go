package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"collabflow/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Kind is the closed set of error categories this API can return.
// Every handler error must map to exactly one of these.
type Kind int

const (
	KindBadRequest Kind = iota
	KindUnauthorized
	KindForbidden
	KindUpstreamFailed
	KindBadGateway
	KindUnexpected
)

// Error is a tagged API error. Message is what the client sees;
// Cause is logged server-side only.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func BadRequest(msg string) *Error {
	return &Error{Kind: KindBadRequest, Message: msg}
}

func Unauthorized(msg string) *Error {
	return &Error{Kind: KindUnauthorized, Message: msg}
}

func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg}
}

func BadGateway(msg string, cause error) *Error {
	return &Error{Kind: KindBadGateway, Message: msg, Cause: cause}
}

func Unexpected(cause error) *Error {
	return &Error{Kind: KindUnexpected, Message: "Internal server error", Cause: cause}
}

// UpstreamError carries the identity provider's rejection so the response
// can mirror its status. Code is the provider's error code, e.g. "invalid_grant".
type UpstreamError struct {
	Status int
	Code   string
	Cause  error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream exchange failed: status=%d code=%q", e.Status, e.Code)
}

func (e *UpstreamError) Unwrap() error { return e.Cause }

// upstreamMessages maps (provider code, provider status) to a client-facing
// message. Unknown combinations fall back per status family.
var upstreamMessages = map[string]string{
	"invalid_grant/400":   "Authorization code is invalid or expired",
	"invalid_grant/401":   "Refresh token is invalid or expired",
	"invalid_client/401":  "Client authentication with the identity provider failed",
	"invalid_request/400": "Malformed request to the identity provider",
}

func upstreamMessage(code string, status int) string {
	if msg, ok := upstreamMessages[fmt.Sprintf("%s/%d", code, status)]; ok {
		return msg
	}
	if status >= 500 {
		return "Identity provider is unavailable"
	}
	return "Authentication with the identity provider failed"
}

// Status resolves the HTTP status for an error.
func Status(err error) int {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		// Mirror the provider's status for client errors; anything else
		// is our problem to report as a gateway failure.
		if ue.Status >= 400 && ue.Status < 500 {
			return ue.Status
		}
		return http.StatusBadGateway
	}

	var ae *Error
	if !errors.As(err, &ae) {
		return http.StatusInternalServerError
	}
	switch ae.Kind {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindUpstreamFailed:
		return http.StatusBadGateway
	case KindBadGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Write renders err as the uniform {error, details} body and aborts the request.
// Causes are logged via the request-scoped logger, never sent to the client.
func Write(c *gin.Context, err error) {
	status := Status(err)
	body := gin.H{"error": "Internal server error", "details": gin.H{}}

	var ue *UpstreamError
	var ae *Error
	switch {
	case errors.As(err, &ue):
		body["error"] = upstreamMessage(ue.Code, ue.Status)
	case errors.As(err, &ae):
		body["error"] = ae.Message
		if len(ae.Details) > 0 {
			body["details"] = ae.Details
		}
	}

	if status >= 500 {
		logger.FromGin(c).Error("request failed", "status", status, "err", err)
	}
	c.AbortWithStatusJSON(status, body)
}
