package loop

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Failover wraps a primary and secondary Provider, retrying the primary once
// with backoff and falling back to the secondary on transient error. §7's
// "at most one automatic retry at the affected layer" contract is satisfied
// by WithMaxRetries(..., 1) on the primary before falling back.
type Failover struct {
	Primary   Provider
	Secondary Provider
}

// NewFailover constructs a two-provider failover wrapper. Secondary may be
// nil, in which case Failover behaves like the bare primary with one retry.
func NewFailover(primary, secondary Provider) *Failover {
	return &Failover{Primary: primary, Secondary: secondary}
}

// Complete tries the primary with one backoff retry; on continued failure it
// falls back to the secondary (if configured), otherwise propagating the
// primary's error.
func (f *Failover) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	resp, err := f.completeWithRetry(ctx, f.Primary, req)
	if err == nil {
		return resp, nil
	}
	if f.Secondary == nil {
		return nil, err
	}
	return f.Secondary.Complete(ctx, req)
}

func (f *Failover) completeWithRetry(ctx context.Context, p Provider, req CompletionRequest) (*CompletionResponse, error) {
	if p == nil {
		return nil, ErrNoProvider
	}
	operation := func() (*CompletionResponse, error) {
		return p.Complete(ctx, req)
	}

	resp, err := backoff.Retry(ctx, operation, backoff.WithMaxTries(2))
	if err != nil {
		return nil, errors.Join(ErrProviderFailed, err)
	}
	return resp, nil
}

// providerErrorRetryOnce issues req without tools after a provider error,
// per §4.6's "Provider error: attempt one retry without tools" rule.
func providerErrorRetryOnce(ctx context.Context, p Provider, req CompletionRequest, timeout time.Duration) (*CompletionResponse, error) {
	retryCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		retryCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	stripped := req
	stripped.Tools = nil
	return p.Complete(retryCtx, stripped)
}
