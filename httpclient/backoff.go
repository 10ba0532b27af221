package httpclient

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Ensure policyBackOff implements the backoff.BackOff interface.
var _ backoff.BackOff = (*policyBackOff)(nil)

// policyBackOff exposes a RetryPolicy's delay schedule as a backoff.BackOff.
//
// It is stateful (it counts retries) and therefore built per logical request.
// Whether to retry at all is decided by the retry transport before the backoff
// is consulted, so NextBackOff never returns backoff.Stop.
type policyBackOff struct {
	policy  RetryPolicy
	retries int
}

func newPolicyBackOff(policy RetryPolicy) *policyBackOff {
	return &policyBackOff{policy: policy}
}

// Reset resets the retry counter.
func (b *policyBackOff) Reset() {
	b.retries = 0
}

// NextBackOff returns the policy delay for the next retry (1-based).
func (b *policyBackOff) NextBackOff() time.Duration {
	b.retries++
	d := b.policy.NextDelay(b.retries)
	if d < 0 {
		return 0
	}
	return d
}
