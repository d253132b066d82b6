// Package auth reconciles a remote session-based identity provider with a
// local fallback credential store and publishes one consistent AuthState.
//
// Identity sources:
//   - RemoteSessionClient is the provider contract (see package gotrue for a
//     GoTrue implementation). CredentialStore is the local store with the
//     built-in demo identities.
//   - FallbackStrategy combines them: sign in falls back to the local store
//     only when the provider rejected the credentials; unconfirmed email,
//     rate limiting and unknown users surface directly.
//
// Coordinator:
//   - Initialize races the session fetch against a deadline and falls back to
//     the cached local user when the provider is slow or unreachable.
//   - Every resolution is tagged with the session it started from and only
//     publishes while that session is still the active one, so late results
//     never overwrite newer state.
//   - A remote session is resolved against ProfileStore; a missing row is
//     created, and a concurrent insert is recovered by re-reading the row.
//   - Close tears down the session subscription and the refresh scheduler.
//
// Activity sinks:
//   - ActivitySink receives best-effort audit events (errors are logged).
//     MetricsSink counts them in Prometheus.
package auth
