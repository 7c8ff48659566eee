package delivery

import (
	"fmt"

	"github.com/xraph/beacon/id"
)

// TransientDeliveryError describes a failed attempt: a transport error, a
// timeout or a response outside [200,400). It is retried per the
// subscription's policy.
type TransientDeliveryError struct {
	StatusCode int
	Err        error
}

func (e *TransientDeliveryError) Error() string {
	if e.Err != nil {
		return "transient delivery error: " + e.Err.Error()
	}
	return fmt.Sprintf("transient delivery error: HTTP %d", e.StatusCode)
}

func (e *TransientDeliveryError) Unwrap() error { return e.Err }

// PermanentDeliveryError reports a delivery chain whose retries are
// exhausted.
type PermanentDeliveryError struct {
	DeliveryID id.ID
	Attempts   int
	Last       error
}

func (e *PermanentDeliveryError) Error() string {
	return fmt.Sprintf("delivery %s failed after %d attempts: %v", e.DeliveryID, e.Attempts, e.Last)
}

func (e *PermanentDeliveryError) Unwrap() error { return e.Last }
