package tryon

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"quel-tryon-server/modules/common/database"
	"quel-tryon-server/modules/tryon/cooldown"
	"quel-tryon-server/modules/tryon/tryonerr"
)

// User-facing message classes. Problems with the submitted photos ask for a
// better photo; service-side problems ask the user to retry later.
const (
	MessageClearerPhoto   = "We couldn't keep your likeness in this try-on. Please upload a clearer, well-lit photo where your face is fully visible."
	MessageClearerGarment = "We couldn't apply this garment. Please upload a clearer photo of the garment on a plain background."
	MessageInvalidImage   = "One of the images could not be read. Please upload a JPEG, PNG or WebP photo."
	MessageRetryLater     = "The try-on service is busy right now. Please retry in a few minutes."
	MessageSlowDown       = "You're generating too quickly. Please wait before trying again."
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrJobsDisabled   = errors.New("async jobs are not configured")
)

// CooldownError is returned when the regeneration policy denies a request.
type CooldownError struct {
	Decision cooldown.Decision
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("cooldown: %s (retry after %s)", e.Decision.Reason, e.Decision.RetryAfter)
}

// RetryAfterSeconds rounds up so clients never retry early.
func (e *CooldownError) RetryAfterSeconds() int {
	return int(math.Ceil(e.Decision.RetryAfter.Seconds()))
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// Classify maps an error to its HTTP status and response body.
func Classify(err error) (int, *ErrorBody) {
	body := &ErrorBody{Detail: err.Error()}

	var cd *CooldownError
	if errors.As(err, &cd) {
		body.Code = "COOLDOWN"
		body.Message = MessageSlowDown
		body.RetryAfter = cd.RetryAfterSeconds()
		return http.StatusTooManyRequests, body
	}
	if te, ok := tryonerr.As(err); ok {
		body.Attempts = te.Attempts
		body.Similarity = te.Similarity
		body.Alignment = te.Alignment
	}

	kind, _ := tryonerr.KindOf(err)
	switch {
	case errors.Is(err, ErrInvalidRequest):
		body.Code, body.Message = "INVALID_REQUEST", MessageInvalidImage
		return http.StatusBadRequest, body
	case errors.Is(err, database.ErrJobNotFound):
		body.Code, body.Message = "JOB_NOT_FOUND", "Job not found"
		return http.StatusNotFound, body
	case errors.Is(err, ErrJobsDisabled):
		body.Code, body.Message = "JOBS_DISABLED", MessageRetryLater
		return http.StatusServiceUnavailable, body
	case errors.Is(err, context.Canceled):
		// a caller abort wins over whatever stage it interrupted
		body.Code, body.Message = "CANCELLED", MessageRetryLater
		return http.StatusServiceUnavailable, body
	case kind == tryonerr.InvalidGeometry:
		body.Code, body.Message = "INVALID_IMAGE", MessageInvalidImage
		return http.StatusUnprocessableEntity, body
	case kind == tryonerr.NoFaceDetected:
		body.Code, body.Message = "NO_FACE_DETECTED", MessageClearerPhoto
		return http.StatusUnprocessableEntity, body
	case kind == tryonerr.IdentityRejected:
		body.Code, body.Message = "IDENTITY_REJECTED", MessageClearerPhoto
		return http.StatusUnprocessableEntity, body
	case kind == tryonerr.GarmentNotApplied:
		body.Code, body.Message = "GARMENT_NOT_APPLIED", MessageClearerGarment
		return http.StatusUnprocessableEntity, body
	case kind == tryonerr.SynthesisFailed:
		body.Code, body.Message = "SYNTHESIS_FAILED", MessageRetryLater
		return http.StatusBadGateway, body
	case kind == tryonerr.VerificationUnavailable:
		body.Code, body.Message = "VERIFICATION_UNAVAILABLE", MessageRetryLater
		return http.StatusServiceUnavailable, body
	case errors.Is(err, context.DeadlineExceeded):
		body.Code, body.Message = "TIMEOUT", MessageRetryLater
		return http.StatusGatewayTimeout, body
	}
	body.Code, body.Message = "INTERNAL", MessageRetryLater
	return http.StatusInternalServerError, body
}

// retryAfterHeader formats a Retry-After value in whole seconds.
func retryAfterHeader(d time.Duration) string {
	return fmt.Sprintf("%d", int(math.Ceil(d.Seconds())))
}
