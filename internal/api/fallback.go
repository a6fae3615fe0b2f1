package api

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// errNoCandidates is returned when a fallback chain is empty.
var errNoCandidates = errors.New("api: no candidate requests")

// Terminal reports whether err should stop a fallback chain: trying an
// alternate route cannot fix an expired session, rejected credentials,
// invalid input, or a cancelled caller.
func Terminal(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	switch KindOf(err) {
	case KindSessionExpired, KindInvalidCredentials, KindValidation:
		return true
	default:
		return false
	}
}

// TryEach calls attempt for each candidate in order and returns nil on the
// first success. If every candidate fails, the last failure is returned.
// Terminal errors and context cancellation stop the chain early.
func TryEach[T any](ctx context.Context, candidates []T, attempt func(context.Context, T) error) error {
	if len(candidates) == 0 {
		return errNoCandidates
	}

	var lastErr error
	for _, cand := range candidates {
		err := attempt(ctx, cand)
		if err == nil {
			return nil
		}
		lastErr = err
		if Terminal(err) || ctx.Err() != nil {
			return err
		}
	}
	return lastErr
}

// Fallback sends each request in order until one succeeds, decoding its
// response into result. It tolerates the backend exposing the same
// resource under different route conventions.
func (c *Client) Fallback(ctx context.Context, candidates []Request, result any) error {
	return TryEach(ctx, candidates, func(ctx context.Context, r Request) error {
		err := c.Do(ctx, r, result)
		if err != nil && !Terminal(err) {
			c.logger.Debug("route candidate failed",
				zap.String("op", r.op()),
				zap.Error(err),
			)
		}
		return err
	})
}

// Candidates expands tmpl into one Request per path, in order.
func Candidates(tmpl Request, paths ...string) []Request {
	out := make([]Request, len(paths))
	for i, p := range paths {
		r := tmpl
		r.Path = p
		out[i] = r
	}
	return out
}
