package authhttp

import (
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-router"
	auth "github.com/tradepulse/go-auth"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var statusByCode = map[string]int{
	auth.TextCodeInvalidToken:        fiber.StatusUnauthorized,
	auth.TextCodeTokenExpired:        fiber.StatusUnauthorized,
	auth.TextCodeInvalidCredentials:  fiber.StatusUnauthorized,
	auth.TextCodeNoUser:              fiber.StatusUnauthorized,
	auth.TextCodeAuthFailed:          fiber.StatusUnauthorized,
	auth.TextCodeEmailUnconfirmed:    fiber.StatusForbidden,
	auth.TextCodeUserNotFound:        fiber.StatusNotFound,
	auth.TextCodeProfileNotFound:     fiber.StatusNotFound,
	auth.TextCodeUserExists:          fiber.StatusConflict,
	auth.TextCodeProfileExists:       fiber.StatusConflict,
	auth.TextCodeInvalidTransition:   fiber.StatusConflict,
	auth.TextCodeInvalidEmail:        fiber.StatusBadRequest,
	auth.TextCodeWeakPassword:        fiber.StatusBadRequest,
	auth.TextCodeInvalidIndustry:     fiber.StatusBadRequest,
	auth.TextCodeRateLimited:         fiber.StatusTooManyRequests,
	auth.TextCodeTooManyAttempts:     fiber.StatusTooManyRequests,
	auth.TextCodeProviderUnavailable: fiber.StatusServiceUnavailable,
	auth.TextCodeSessionTimeout:      fiber.StatusServiceUnavailable,
	auth.TextCodeNotInitialized:      fiber.StatusServiceUnavailable,
	auth.TextCodeCoordinatorClosed:   fiber.StatusServiceUnavailable,
}

// StatusFor maps an auth error to its HTTP status.
func StatusFor(err error) int {
	if status, ok := statusByCode[auth.AuthErrorCode(err)]; ok {
		return status
	}
	return fiber.StatusInternalServerError
}

func writeError(ctx router.Context, err error) error {
	code := auth.AuthErrorCode(err)
	if code == "" {
		code = "INTERNAL"
	}
	return ctx.JSON(StatusFor(err), ErrorResponse{
		Code:    code,
		Message: auth.UserMessage(err),
	})
}

func badRequest(ctx router.Context, err error) error {
	return ctx.JSON(fiber.StatusBadRequest, ErrorResponse{
		Code:    "BAD_REQUEST",
		Message: "malformed request body: " + err.Error(),
	})
}
