// Package server exposes the engine over HTTP: read-only scan and
// stats endpoints, mutating operations streamed as server-sent events,
// trash management, and a background poller that keeps the index in
// step with the filesystem while the server runs.
package server
