package notification

import (
	"context"

	"github.com/smartdevs17/pool-listener/internal/retry"
)

type retryingChannel struct {
	next   Channel
	policy retry.Policy
}

// WithRetry retries transient send failures under policy
func WithRetry(next Channel, policy retry.Policy) Channel {
	return &retryingChannel{next: next, policy: policy.Named("notify_" + next.Name())}
}

func (r *retryingChannel) Name() string { return r.next.Name() }

func (r *retryingChannel) Send(ctx context.Context, msg *Message) error {
	return r.policy.Do(ctx, func(ctx context.Context) error {
		return r.next.Send(ctx, msg)
	})
}
