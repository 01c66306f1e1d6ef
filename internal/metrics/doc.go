// Package metrics defines the Prometheus collectors exported by
// photokeep. All collectors are registered with the default registry
// via promauto at package initialization.
package metrics
