package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	apperrors "github.com/loopline-social/guardpost/pkg/errors"
)

// statusFor maps error codes to HTTP statuses. Messages carried on the
// error are caller-safe by construction; internal detail stays in the
// Cause, which is never serialized.
func statusFor(code apperrors.Code) int {
	switch code {
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeQuotaExceeded:
		return http.StatusTooManyRequests
	case apperrors.CodeInvalid, apperrors.CodeExpired,
		apperrors.CodeExhausted, apperrors.CodeRevoked:
		return http.StatusBadRequest
	case apperrors.CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	code := apperrors.CodeOf(err)
	status := statusFor(code)
	message := "internal error"
	if status < http.StatusInternalServerError {
		message = err.Error()
	}
	if code == apperrors.CodeStoreUnavailable {
		message = "temporarily unavailable, try again later"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}
