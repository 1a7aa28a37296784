package upstream

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Result pairs one endpoint's outcome with its originating endpoint id, so
// callers can tell which endpoints failed without losing identity even when
// every call fails.
type Result struct {
	Endpoint string
	Answer   Answer
	Err      error
}

// RunParallel fans a request out to every endpoint concurrently and gathers
// every result, tolerating partial failure: a failing endpoint produces a
// Result with Err set rather than aborting the others. Position in the
// returned slice matches position in endpoints, preserving identity (the
// stage artifacts record exactly which endpoint produced which answer).
func RunParallel(ctx context.Context, client *Client, endpoints []string, messages []Message) []Result {
	results := make([]Result, len(endpoints))

	g, gctx := errgroup.WithContext(ctx)
	for i, endpoint := range endpoints {
		i, endpoint := i, endpoint
		g.Go(func() error {
			answer, err := client.Call(gctx, endpoint, messages)
			results[i] = Result{Endpoint: endpoint, Answer: answer, Err: err}
			return nil // never abort siblings on one endpoint's failure
		})
	}
	_ = g.Wait()

	return results
}

// RunParallelPerEndpoint is RunParallel's sibling for when the message body
// must vary per endpoint — attachments need a vision-capable endpoint's
// message to differ from a text-only endpoint's. build is called once per
// endpoint, concurrently with the fan-out itself.
func RunParallelPerEndpoint(ctx context.Context, client *Client, endpoints []string, build func(endpoint string) []Message) []Result {
	results := make([]Result, len(endpoints))

	g, gctx := errgroup.WithContext(ctx)
	for i, endpoint := range endpoints {
		i, endpoint := i, endpoint
		g.Go(func() error {
			answer, err := client.Call(gctx, endpoint, build(endpoint))
			results[i] = Result{Endpoint: endpoint, Answer: answer, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// AnySucceeded reports whether at least one result in results succeeded.
func AnySucceeded(results []Result) bool {
	for _, r := range results {
		if r.Err == nil {
			return true
		}
	}
	return false
}

// Succeeded filters results down to only the successful answers, in their
// original fan-out order.
func Succeeded(results []Result) []Answer {
	var out []Answer
	for _, r := range results {
		if r.Err == nil {
			out = append(out, r.Answer)
		}
	}
	return out
}
