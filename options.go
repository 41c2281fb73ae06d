package mentor

import (
	"context"
	"fmt"
	"time"

	"github.com/zoobzio/pipz"
)

// Option wraps the adapter's call pipeline with a reliability feature.
type Option func(pipz.Chainable[*CallRequest]) pipz.Chainable[*CallRequest]

// WithCircuitBreaker adds circuit breaker protection to the pipeline.
// After 'failures' consecutive failures, the circuit opens for 'recovery'
// duration.
func WithCircuitBreaker(failures int, recovery time.Duration) Option {
	return func(pipeline pipz.Chainable[*CallRequest]) pipz.Chainable[*CallRequest] {
		return pipz.NewCircuitBreaker("circuit-breaker", pipeline, failures, recovery)
	}
}

// WithRateLimit adds rate limiting to the pipeline.
// rps = requests per second, burst = burst capacity.
func WithRateLimit(rps float64, burst int) Option {
	return func(pipeline pipz.Chainable[*CallRequest]) pipz.Chainable[*CallRequest] {
		rateLimiter := pipz.NewRateLimiter[*CallRequest]("rate-limit", rps, burst)
		return pipz.NewSequence("rate-limited", rateLimiter, pipeline)
	}
}

// WithFallbackProvider tries a secondary provider when the primary call
// fails. The fallback gets one attempt with no retry of its own.
func WithFallbackProvider(p Provider) Option {
	return func(pipeline pipz.Chainable[*CallRequest]) pipz.Chainable[*CallRequest] {
		return pipz.NewFallback("provider-fallback", pipeline, newTerminal(p, 0, 0))
	}
}

// WithErrorHandler adds error handling to the pipeline.
// The handler receives error context and can process/log/alert as needed.
func WithErrorHandler(handler pipz.Chainable[*pipz.Error[*CallRequest]]) Option {
	return func(pipeline pipz.Chainable[*CallRequest]) pipz.Chainable[*CallRequest] {
		return pipz.NewHandle("error-handler", pipeline, handler)
	}
}

// WithDebug adds debug logging that prints the prompt and raw response.
// Useful for troubleshooting what the model sees and returns.
func WithDebug() Option {
	return func(pipeline pipz.Chainable[*CallRequest]) pipz.Chainable[*CallRequest] {
		return pipz.Apply("debug", func(ctx context.Context, req *CallRequest) (*CallRequest, error) {
			fmt.Println("\n=== DEBUG: Prompt ===")
			fmt.Println(req.Prompt)
			fmt.Println("=====================")

			processed, err := pipeline.Process(ctx, req)
			if err != nil {
				fmt.Printf("\n=== DEBUG: Error ===\n%v\n==================\n\n", err)
				return processed, err
			}

			fmt.Println("\n=== DEBUG: Raw Response ===")
			fmt.Println(processed.Response)
			fmt.Println("===========================")

			return processed, nil
		})
	}
}
