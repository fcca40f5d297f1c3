package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Recovery turns a handler panic into the generic 500 body. When the handler
// had already written (an event stream, typically) the connection is only
// aborted.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if err, ok := r.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(r)
			}

			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Str("route", c.FullPath()).
				Str("request_id", RequestIDFrom(c)).
				Str("user_id", CurrentUserID(c)).
				Msg("handler panicked")

			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Something went wrong, please try again",
			})
		}()
		c.Next()
	}
}
