// Package reliability provides the backoff policies used by the eventbus.
//
// Policies are plain values injected as configuration: production wiring
// uses second-scale delays, tests use near-zero ones. Retry executes a
// function under a policy, honoring context cancellation between attempts.
package reliability
