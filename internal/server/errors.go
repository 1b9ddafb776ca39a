package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	analyticsdomain "github.com/paxiitdevteam/retentionos/internal/analytics/domain"
	billingdomain "github.com/paxiitdevteam/retentionos/internal/billing/domain"
	flowdomain "github.com/paxiitdevteam/retentionos/internal/flow/domain"
	offerdomain "github.com/paxiitdevteam/retentionos/internal/offer/domain"
	scoringdomain "github.com/paxiitdevteam/retentionos/internal/scoring/domain"
	subdomain "github.com/paxiitdevteam/retentionos/internal/subscription/domain"
	userdomain "github.com/paxiitdevteam/retentionos/internal/user/domain"
)

// Transport-level sentinels.
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("not_found")
	ErrTooManyRequests    = errors.New("too_many_requests")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

type apiError struct {
	status  int
	code    string
	message string
}

func (e *apiError) Error() string { return e.code }

func newValidationError(field, rule, message string) error {
	return &apiError{
		status:  http.StatusBadRequest,
		code:    "invalid_" + field + "_" + rule,
		message: message,
	}
}

func invalidRequestError() error {
	return &apiError{
		status:  http.StatusBadRequest,
		code:    "invalid_request",
		message: "request body could not be parsed",
	}
}

// AbortWithError maps domain sentinels to HTTP statuses and writes a uniform
// error body. Unrecognized errors become an opaque 500 so internals never leak.
func AbortWithError(c *gin.Context, err error) {
	var api *apiError
	if errors.As(err, &api) {
		c.AbortWithStatusJSON(api.status, gin.H{"error": api.code, "message": api.message})
		return
	}

	status := http.StatusInternalServerError
	code := "internal_error"

	switch {
	case errors.Is(err, ErrUnauthorized):
		status, code = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, ErrTooManyRequests):
		status, code = http.StatusTooManyRequests, "too_many_requests"
	case errors.Is(err, ErrServiceUnavailable):
		status, code = http.StatusServiceUnavailable, "service_unavailable"

	case errors.Is(err, ErrNotFound),
		errors.Is(err, userdomain.ErrUserNotFound),
		errors.Is(err, subdomain.ErrSubscriptionNotFound),
		errors.Is(err, flowdomain.ErrFlowNotFound):
		status, code = http.StatusNotFound, "not_found"

	case errors.Is(err, offerdomain.ErrInvalidOfferType),
		errors.Is(err, userdomain.ErrInvalidUserID),
		errors.Is(err, flowdomain.ErrInvalidFlow),
		errors.Is(err, flowdomain.ErrInvalidStep),
		errors.Is(err, scoringdomain.ErrInvalidWeight),
		errors.Is(err, analyticsdomain.ErrInvalidWindow):
		status, code = http.StatusBadRequest, "invalid_input"

	case errors.Is(err, flowdomain.ErrNoFlowAvailable):
		status, code = http.StatusNotFound, "no_flow_available"

	case errors.Is(err, billingdomain.ErrBillingMutationFailed):
		status, code = http.StatusBadGateway, "billing_mutation_failed"

	case errors.Is(err, billingdomain.ErrProviderNotFound):
		status, code = http.StatusNotFound, "provider_not_found"

	case errors.Is(err, billingdomain.ErrInvalidSignature):
		status, code = http.StatusUnauthorized, "invalid_signature"

	case errors.Is(err, billingdomain.ErrInvalidPayload),
		errors.Is(err, billingdomain.ErrInvalidEvent):
		status, code = http.StatusBadRequest, "invalid_payload"
	}

	c.AbortWithStatusJSON(status, gin.H{"error": code, "message": err.Error()})
}
