package paymentpoll

import (
	"billing/internal/v2/types"

	"github.com/thoas/go-funk"
)

var successStatuses = []string{
	"paid",
	"success",
	"succeeded",
	"successful",
	"completed",
	"complete",
	"approved",
	"awaiting delivery",
	"delivered",
}

var failureStatuses = []string{
	"failed",
	"failure",
	"cancelled",
	"canceled",
	"declined",
	"rejected",
	"expired",
	"disputed",
	"refunded",
	"error",
}

// Classify maps a raw status payload to Pending, Success or Failure.
//
// Both status and paynow_status are consulted, case-insensitively. A value outside the
// known vocabulary is Pending, as is a success/failure contradiction between the two
// fields: gateways report intermediate states that must not abort polling.
func Classify(payload types.StatusPayload) types.Classification {
	success, failure := false, false
	for _, raw := range []string{payload.Status, payload.PaynowStatus} {
		status := types.NormalizeStatus(raw)
		if status == "" {
			continue
		}
		if funk.ContainsString(successStatuses, status) {
			success = true
		}
		if funk.ContainsString(failureStatuses, status) {
			failure = true
		}
	}

	switch {
	case success && !failure:
		return types.ClassificationSuccess
	case failure && !success:
		return types.ClassificationFailure
	default:
		return types.ClassificationPending
	}
}
