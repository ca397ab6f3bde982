// Package metrics exposes Prometheus collectors for the biostream server:
// connection and handshake counters recorded by the transport layer, and a
// collector that reads per-device acquisition counters on every scrape.
//
// All Record methods are safe to call on a nil *Metrics, which disables
// recording.
package metrics
