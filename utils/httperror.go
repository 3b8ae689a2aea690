package utils

import "github.com/gin-gonic/gin"

// HTTPError is the tagged failure every handler reports: a human readable
// message plus the HTTP status the central responder should write. A zero
// Status renders as 500.
type HTTPError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return e.Message
}

// NewHTTPError builds a tagged error.
func NewHTTPError(status int, message string) *HTTPError {
	return &HTTPError{Status: status, Message: message}
}

// Fail records a tagged error on the context and stops the handler chain.
// The error-handler middleware turns it into the JSON response.
func Fail(ctx *gin.Context, status int, message string) {
	_ = ctx.Error(NewHTTPError(status, message))
	ctx.Abort()
}
