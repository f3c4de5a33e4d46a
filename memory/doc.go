// Package memory provides the namespaced key-value cache and append-only
// audit log the agent pipeline persists through.
//
// Architecture:
//   - Store: KV + log backend (inmem for tests and local runs, sqlite for durable deployments)
//   - Embedder: Text-to-vector conversion for similarity lookup over audit payloads
//   - Recorder: Best-effort audit append used by the aggregator and the action service
//
// Namespacing:
//   - Every read and write is scoped by core.Namespace (agent, owner, domain)
//   - Backends keep one partition per namespace; nothing crosses tenants
//
// Consistency:
//   - Put is last-write-wins with no versioning
//   - Append preserves insertion order; Query returns most-recent-first
//   - There are no transactions; each caller leaves the store consistent per call
//   - A backend that cannot serve a call fails with core.ErrStoreUnavailable and never retries
package memory
