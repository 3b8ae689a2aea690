package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/inkpress/inkpress/utils"
)

// ErrorHandler is the central responder every handler failure funnels into.
// It renders the last tagged error on the context as a single JSON body
// {"message": ...} with the error's status, defaulting to 500, and skips
// entirely when a response has already been written.
func ErrorHandler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Next()

		if len(ctx.Errors) == 0 || ctx.Writer.Written() {
			return
		}

		status := http.StatusInternalServerError
		message := "An unknown error occurred"

		var httpErr *utils.HTTPError
		if errors.As(ctx.Errors.Last().Err, &httpErr) {
			if httpErr.Status != 0 {
				status = httpErr.Status
			}
			if httpErr.Message != "" {
				message = httpErr.Message
			}
		}

		ctx.JSON(status, gin.H{"message": message})
	}
}

// NotFound synthesizes a 404 for unmatched routes and methods, flowing into
// the same responder as handler failures.
func NotFound() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		utils.Fail(ctx, http.StatusNotFound, "Not found - "+ctx.Request.URL.Path)
	}
}
