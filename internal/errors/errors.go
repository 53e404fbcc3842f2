package errors

import (
	"errors"
)

// ErrEvidenceFailed marks enforcement withheld because the audit copy could
// not be gathered; the message stays claimable for a later delivery.
var ErrEvidenceFailed = errors.New("evidence gathering failed")
