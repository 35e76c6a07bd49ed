package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Recovery returns middleware that converts handler panics into 500
// responses with an OperationOutcome body, logging the stack trace.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					rid, _ := c.Get("request_id").(string)
					logger.Error().
						Str("request_id", rid).
						Str("panic", fmt.Sprintf("%v", r)).
						Str("stack", string(debug.Stack())).
						Msg("panic recovered")

					err = c.JSON(http.StatusInternalServerError, map[string]interface{}{
						"resourceType": "OperationOutcome",
						"issue": []map[string]interface{}{
							{
								"severity":    "error",
								"code":        "exception",
								"diagnostics": "Internal server error",
							},
						},
					})
				}
			}()
			return next(c)
		}
	}
}
