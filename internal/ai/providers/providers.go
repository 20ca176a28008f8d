// Package providers implements the ai.Provider backends: Anthropic and
// OpenAI through their official SDKs, OpenRouter through the OpenAI-compatible
// surface, and Ollama for local models over raw HTTP. Adapters are
// non-streaming; each owns a retry loop for transient failures and returns
// structured ai.ProviderError values the router's failover logic understands.
package providers

import (
	"context"
	"math"
	"time"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
	defaultMaxTokens  = 4096
)

// retry runs op up to maxRetries+1 times with exponential backoff, asking
// isRetryable before each wait. The last error is returned as-is.
func retry(ctx context.Context, maxRetries int, baseDelay time.Duration, isRetryable func(error) bool, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if isRetryable == nil || !isRetryable(lastErr) {
			return lastErr
		}
		if attempt >= maxRetries {
			break
		}
		backoff := baseDelay * time.Duration(math.Pow(2, float64(attempt)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return lastErr
}
