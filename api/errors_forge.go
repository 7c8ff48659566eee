package api

import (
	"errors"
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/catalog"
	"github.com/xraph/beacon/subscription"
)

// mapError converts beacon errors to Forge HTTP errors.
func mapError(err error) error {
	var cfgErr *subscription.ConfigurationError
	var queueErr *beacon.DispatchQueueError

	switch {
	case errors.As(err, &cfgErr):
		return forge.BadRequest(err.Error())
	case errors.As(err, &queueErr):
		return forge.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, beacon.ErrSubscriptionNotFound):
		return forge.NotFound(err.Error())
	case errors.Is(err, beacon.ErrEventNotFound):
		return forge.NotFound(err.Error())
	case errors.Is(err, beacon.ErrAttemptNotFound):
		return forge.NotFound(err.Error())
	case errors.Is(err, catalog.ErrUnknownType):
		return forge.NotFound(err.Error())
	case errors.Is(err, beacon.ErrEventTypeNotFound):
		return forge.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, beacon.ErrInvalidEvent):
		return forge.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, beacon.ErrPayloadValidationFailed):
		return forge.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, beacon.ErrEventTypeDeprecated):
		return forge.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, beacon.ErrRedeliveryNotAllowed):
		return forge.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, beacon.ErrEngineStopped):
		return forge.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return forge.InternalError(err)
	}
}
